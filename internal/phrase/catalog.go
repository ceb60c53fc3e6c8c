// Package phrase はチャレンジフレーズの選定と取り込みを提供する。
package phrase

import (
	"context"
	"fmt"

	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/repository"
)

// Catalog はフレーズカタログからの選定を行う。
// 同一ユーザーへの短期的な再提示を避けるため、直近の提示記録を除外した上で
// ランダムに選定する。候補が不足した場合は難易度指定、次いで除外窓を
// 段階的に緩和し、それでも不足する場合のみ枯渇エラーを返す。
type Catalog struct {
	phrases         repository.PhraseRepository
	usages          repository.PhraseUsageRepository
	exclusionWindow int
}

// NewCatalog はCatalogを生成する。
func NewCatalog(phrases repository.PhraseRepository, usages repository.PhraseUsageRepository, exclusionWindow int) *Catalog {
	return &Catalog{
		phrases:         phrases,
		usages:          usages,
		exclusionWindow: exclusionWindow,
	}
}

// Select はユーザー向けのフレーズを1つ選定する。
// difficultyが空の場合は全難易度から選定する。
func (c *Catalog) Select(ctx context.Context, userID, language string, difficulty model.Difficulty) (*model.Phrase, error) {
	recent, err := c.usages.RecentPhraseIDs(ctx, userID, c.exclusionWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent phrase usages: %w", err)
	}

	// 緩和は決定的な順序で行う: 各除外窓の幅で難易度指定を先に外し、
	// それでも候補がなければ窓を半減する。最近使われたフレーズの再提示は
	// リプレイの温床になるため、難易度の譲歩を窓の縮小より先に試す。
	difficulties := []model.Difficulty{difficulty}
	if difficulty != "" {
		difficulties = append(difficulties, "")
	}
	window := len(recent)
	for {
		for _, d := range difficulties {
			phrases, err := c.phrases.ListActive(ctx, language, d, recent[:window], 1)
			if err != nil {
				return nil, fmt.Errorf("failed to list active phrases: %w", err)
			}
			if len(phrases) > 0 {
				return phrases[0], nil
			}
		}
		if window == 0 {
			break
		}
		window /= 2
	}

	return nil, model.NewCatalogExhaustedError()
}
