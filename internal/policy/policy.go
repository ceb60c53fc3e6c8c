// Package policy は生体信号からの認証判定を提供する。
package policy

import (
	"github.com/hitoshi/voicegate/internal/config"
	"github.com/hitoshi/voicegate/internal/model"
)

// Policy は判定しきい値の組を表す。バージョン付きのイミュータブルな値として扱い、
// 過去の試行がどのしきい値で判定されたかを試行行のPolicyIDから追跡できるようにする。
type Policy struct {
	ID                 string
	MinSimilarity      float64 // 類似度の下限（これ以上で合格）
	MaxSpoof           float64 // なりすまし確率の上限（これ以下で合格）
	PhraseThreshold    float64 // 発話一致度の下限（これ以上で合格）
	RequirePhraseMatch bool    // 発話一致の検査を行うか
}

// Decision は1試行分の判定結果を表す。
type Decision struct {
	Accept    bool
	Reason    model.Reason
	Composite float64 // 報告用の合成スコア。判定には使用しない。
}

// 合成スコアの重み。判定はしきい値のみで行い、合成スコアは報告専用とする。
const (
	weightSimilarity = 0.6
	weightSpoof      = 0.2
	weightPhrase     = 0.2
)

// Decide は3つの生体信号をしきい値と突き合わせて判定する。
// 検査は固定の優先順位（なりすまし、発話一致、類似度）で行われるため、
// 複数の検査に不合格の場合でも、報告される理由は常に
// 最もセキュリティ上重要なものとなる。決定的であり、同じ入力には常に同じ判定を返す。
func (p Policy) Decide(scores model.Scores) Decision {
	composite := weightSimilarity*scores.Similarity +
		weightSpoof*(1-scores.SpoofProbability) +
		weightPhrase*scores.PhraseMatch

	if scores.SpoofProbability > p.MaxSpoof {
		return Decision{Accept: false, Reason: model.ReasonSpoof, Composite: composite}
	}
	if p.RequirePhraseMatch && scores.PhraseMatch < p.PhraseThreshold {
		return Decision{Accept: false, Reason: model.ReasonBadPhrase, Composite: composite}
	}
	if scores.Similarity < p.MinSimilarity {
		return Decision{Accept: false, Reason: model.ReasonLowSimilarity, Composite: composite}
	}
	return Decision{Accept: true, Reason: model.ReasonOK, Composite: composite}
}

// Registry はIDからポリシーを引く読み取り専用のレジストリ。
type Registry struct {
	policies  map[string]Policy
	defaultID string
}

// NewRegistry はRegistryを生成する。
func NewRegistry(defaultID string, policies ...Policy) *Registry {
	m := make(map[string]Policy, len(policies))
	for _, p := range policies {
		m[p.ID] = p
	}
	return &Registry{policies: m, defaultID: defaultID}
}

// Get は指定IDのポリシーを返す。未定義のIDの場合はデフォルトポリシーを返す。
func (r *Registry) Get(id string) Policy {
	if p, ok := r.policies[id]; ok {
		return p
	}
	return r.policies[r.defaultID]
}

// DefaultID はデフォルトポリシーのIDを返す。
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// DefaultRegistry は設定値に基づく標準レジストリを構築する。
// standard-v1は設定のしきい値をそのまま使用し、strict-v1は
// 高リスク操作向けにしきい値を一段厳しくしたもの。
func DefaultRegistry(cfg *config.Config) *Registry {
	standard := Policy{
		ID:                 "standard-v1",
		MinSimilarity:      cfg.MinSimilarity,
		MaxSpoof:           cfg.MaxSpoof,
		PhraseThreshold:    cfg.PhraseThreshold,
		RequirePhraseMatch: true,
	}
	strict := Policy{
		ID:                 "strict-v1",
		MinSimilarity:      min(cfg.MinSimilarity+0.1, 0.95),
		MaxSpoof:           max(cfg.MaxSpoof-0.2, 0.1),
		PhraseThreshold:    min(cfg.PhraseThreshold+0.1, 0.95),
		RequirePhraseMatch: true,
	}
	return NewRegistry(standard.ID, standard, strict)
}
