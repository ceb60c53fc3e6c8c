// Package oracle は生体信号の推論サービスへのクライアントを提供する。
package oracle

import "context"

// ExtractResult は音声からの埋め込み抽出の結果を表す。
type ExtractResult struct {
	Embedding       []float64
	SNR             float64 // 信号対雑音比（dB）
	DurationSeconds float64
	ModelVersion    string
}

// Oracle は音声認識・話者照合・なりすまし検知の推論インターフェース。
// 判定のしきい値比較は行わず、生のスコアのみを返す。
type Oracle interface {
	// ExtractEmbedding は音声から話者埋め込みと録音品質指標を抽出する。
	ExtractEmbedding(ctx context.Context, audio []byte) (*ExtractResult, error)

	// Compare は音声の話者埋め込みと基準声紋の類似度[0,1]を返す。
	Compare(ctx context.Context, audio []byte, reference []float64) (score float64, modelVersion string, err error)

	// SpoofScore は音声が再生・合成である確率[0,1]を返す。
	SpoofScore(ctx context.Context, audio []byte) (score float64, modelVersion string, err error)

	// TranscribeAndMatch は音声を文字起こしし、要求フレーズとの一致度[0,1]を返す。
	TranscribeAndMatch(ctx context.Context, audio []byte, expected string) (score float64, modelVersion string, err error)
}
