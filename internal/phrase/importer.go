package phrase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/repository"
)

// Importer はフレーズのカタログへの取り込みを行う。
// 外部提供のテキストを想定し、サニタイズと文字数検証を通過したものだけを保存する。
type Importer struct {
	phrases   repository.PhraseRepository
	sanitizer *bluemonday.Policy
	minChars  int
	maxChars  int
}

// NewImporter はImporterを生成する。
func NewImporter(phrases repository.PhraseRepository, minChars, maxChars int) *Importer {
	return &Importer{
		phrases:   phrases,
		sanitizer: bluemonday.StrictPolicy(),
		minChars:  minChars,
		maxChars:  maxChars,
	}
}

// Import はフレーズを検証してカタログに追加する。
// 同一テキスト・言語のフレーズが既に存在する場合は既存のフレーズを返し、
// 新規作成した場合はcreated=trueを返す。
func (i *Importer) Import(ctx context.Context, text, language string, difficulty model.Difficulty) (*model.Phrase, bool, error) {
	sanitized := strings.TrimSpace(i.sanitizer.Sanitize(text))
	if sanitized != strings.TrimSpace(text) {
		return nil, false, model.NewInvalidPhraseError("マークアップを含むテキストは使用できません")
	}
	if sanitized == "" {
		return nil, false, model.NewInvalidPhraseError("テキストが空です")
	}

	chars := utf8.RuneCountInString(sanitized)
	if chars < i.minChars || chars > i.maxChars {
		return nil, false, model.NewInvalidPhraseError(
			fmt.Sprintf("文字数は%d〜%d文字である必要があります（現在: %d文字）", i.minChars, i.maxChars, chars))
	}

	if !model.ValidDifficulty(difficulty) {
		return nil, false, model.NewInvalidPhraseError(fmt.Sprintf("未定義の難易度です: %s", difficulty))
	}

	existing, err := i.phrases.FindByText(ctx, sanitized, language)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for duplicate phrase: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	p := &model.Phrase{
		ID:         uuid.New().String(),
		Text:       sanitized,
		Language:   language,
		Difficulty: difficulty,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := i.phrases.Create(ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to create phrase: %w", err)
	}

	return p, true, nil
}

// Deactivate はフレーズを無効化する。過去のチャレンジの意味を保つため、
// テキストの編集や削除ではなく無効化のみを提供する。
func (i *Importer) Deactivate(ctx context.Context, id string) error {
	if err := i.phrases.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate phrase: %w", err)
	}
	return nil
}
