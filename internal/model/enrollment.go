// Package model はドメインモデルを定義する。
package model

import "time"

// EnrollmentState は声紋登録セッションの状態を表す。
type EnrollmentState string

const (
	// EnrollmentCollecting はサンプル収集中の状態。
	EnrollmentCollecting EnrollmentState = "collecting"
	// EnrollmentCompleted は声紋作成が完了した終端状態。完了後の再利用は行わない。
	EnrollmentCompleted EnrollmentState = "completed"
	// EnrollmentAbandoned は放置されスイープにより打ち切られた終端状態。
	EnrollmentAbandoned EnrollmentState = "abandoned"
)

// EnrollmentSession は声紋登録の進行状態を表す。
// サービスは水平スケールするため、セッションはプロセスメモリではなく
// 永続ストレージに保持する。
type EnrollmentSession struct {
	ID              string
	UserID          string
	RequiredSamples int
	Overwrite       bool // 既存声紋の上書き再登録を許可するか
	State           EnrollmentState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EnrollmentSample は品質検査を通過した1録音分の派生データを表す。
// SNRと長さがそれぞれ下限を満たしたサンプルのみが保存される。
type EnrollmentSample struct {
	ID              string
	SessionID       string
	ChallengeID     string
	Embedding       []float64
	SNR             float64 // 信号対雑音比（dB）
	DurationSeconds float64
	ModelVersion    string
	CreatedAt       time.Time
}

// Voiceprint はユーザーの照合基準となる声紋を表す。
// アクティブな声紋はユーザーごとに高々1つ（部分一意インデックスで保証）。
// 再登録時は旧声紋をSupersededAtで履歴化し、新声紋に置き換える。
// 認証処理が声紋を変更することはない。
type Voiceprint struct {
	ID           string
	UserID       string
	Embedding    []float64 // L2正規化済みの平均埋め込み
	SampleCount  int
	Quality      float64 // サンプル間の平均ペアワイズコサイン類似度
	ModelVersion string
	Active       bool
	CreatedAt    time.Time
	SupersededAt *time.Time
}
