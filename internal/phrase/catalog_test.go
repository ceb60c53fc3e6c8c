package phrase

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/voicegate/internal/model"
)

// --- モック ---

type mockPhraseRepo struct {
	createFn     func(ctx context.Context, phrase *model.Phrase) error
	findByTextFn func(ctx context.Context, text, language string) (*model.Phrase, error)
	listActiveFn func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error)
}

func (m *mockPhraseRepo) Create(ctx context.Context, phrase *model.Phrase) error {
	if m.createFn != nil {
		return m.createFn(ctx, phrase)
	}
	return nil
}
func (m *mockPhraseRepo) FindByText(ctx context.Context, text, language string) (*model.Phrase, error) {
	if m.findByTextFn != nil {
		return m.findByTextFn(ctx, text, language)
	}
	return nil, nil
}
func (m *mockPhraseRepo) ListActive(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, language, difficulty, excludeIDs, limit)
	}
	return nil, nil
}
func (m *mockPhraseRepo) Deactivate(ctx context.Context, id string) error { return nil }

type mockUsageRepo struct {
	recentFn func(ctx context.Context, userID string, window int) ([]string, error)
}

func (m *mockUsageRepo) RecentPhraseIDs(ctx context.Context, userID string, window int) ([]string, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, userID, window)
	}
	return nil, nil
}

// listCall はListActiveの呼び出し条件を記録する。
type listCall struct {
	difficulty model.Difficulty
	excludeLen int
}

// --- テスト ---

// TestCatalog_Select_ReturnsPhrase は除外窓を尊重した選定を検証する。
func TestCatalog_Select_ReturnsPhrase(t *testing.T) {
	want := &model.Phrase{ID: "p-1", Text: "今日の天気は晴れのち曇りです", Difficulty: model.DifficultyMedium}
	var gotExclude []string

	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			gotExclude = excludeIDs
			return []*model.Phrase{want}, nil
		},
	}
	usages := &mockUsageRepo{
		recentFn: func(ctx context.Context, userID string, window int) ([]string, error) {
			if window != 30 {
				t.Errorf("window = %d, want 30", window)
			}
			return []string{"p-9", "p-8"}, nil
		},
	}

	c := NewCatalog(phrases, usages, 30)
	got, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyMedium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("got phrase %q, want %q", got.ID, want.ID)
	}
	if len(gotExclude) != 2 {
		t.Errorf("excludeIDs = %v, want 2 recent phrases", gotExclude)
	}
}

// TestCatalog_Select_RelaxesDifficultyBeforeWindow は各窓幅で難易度指定が先に外れることを検証する。
func TestCatalog_Select_RelaxesDifficultyBeforeWindow(t *testing.T) {
	var calls []listCall
	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			calls = append(calls, listCall{difficulty: difficulty, excludeLen: len(excludeIDs)})
			// 指定難易度のまま除外が1件以下になるまで候補なし
			if difficulty == model.DifficultyHard && len(excludeIDs) <= 1 {
				return []*model.Phrase{{ID: "p-1"}}, nil
			}
			return nil, nil
		},
	}
	usages := &mockUsageRepo{
		recentFn: func(ctx context.Context, userID string, window int) ([]string, error) {
			return []string{"a", "b", "c", "d"}, nil
		},
	}

	c := NewCatalog(phrases, usages, 30)
	if _, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyHard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 窓を縮める前に、同じ窓幅で難易度指定を外した照会が挟まる
	want := []listCall{
		{model.DifficultyHard, 4},
		{"", 4},
		{model.DifficultyHard, 2},
		{"", 2},
		{model.DifficultyHard, 1},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], w)
		}
	}
}

// TestCatalog_Select_ShrinksWindowAfterDifficulty は難易度を外しても候補がない場合に限り窓が半減することを検証する。
func TestCatalog_Select_ShrinksWindowAfterDifficulty(t *testing.T) {
	var calls []listCall
	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			calls = append(calls, listCall{difficulty: difficulty, excludeLen: len(excludeIDs)})
			if difficulty == "" && len(excludeIDs) == 2 {
				return []*model.Phrase{{ID: "p-any"}}, nil
			}
			return nil, nil
		},
	}
	usages := &mockUsageRepo{
		recentFn: func(ctx context.Context, userID string, window int) ([]string, error) {
			return []string{"a", "b", "c", "d"}, nil
		},
	}

	c := NewCatalog(phrases, usages, 30)
	got, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyEasy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "p-any" {
		t.Errorf("got %q, want p-any", got.ID)
	}

	want := []listCall{
		{model.DifficultyEasy, 4},
		{"", 4},
		{model.DifficultyEasy, 2},
		{"", 2},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], w)
		}
	}
}

// TestCatalog_Select_PrefersFreshPhraseOverRecentRepeat は直近提示フレーズの再提示より
// 他難易度の未提示フレーズが優先されることを検証する。
func TestCatalog_Select_PrefersFreshPhraseOverRecentRepeat(t *testing.T) {
	// カタログにはeasyが1件（直近提示済み）とhardが1件（未提示）だけ存在する
	recentEasy := &model.Phrase{ID: "p-easy-1", Difficulty: model.DifficultyEasy}
	freshHard := &model.Phrase{ID: "p-hard-1", Difficulty: model.DifficultyHard}

	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			excluded := func(id string) bool {
				for _, e := range excludeIDs {
					if e == id {
						return true
					}
				}
				return false
			}
			switch difficulty {
			case model.DifficultyEasy:
				if !excluded(recentEasy.ID) {
					return []*model.Phrase{recentEasy}, nil
				}
			case "":
				if !excluded(freshHard.ID) {
					return []*model.Phrase{freshHard}, nil
				}
			}
			return nil, nil
		},
	}
	usages := &mockUsageRepo{
		recentFn: func(ctx context.Context, userID string, window int) ([]string, error) {
			return []string{recentEasy.ID}, nil
		},
	}

	c := NewCatalog(phrases, usages, 30)
	got, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyEasy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != freshHard.ID {
		t.Errorf("got %q, want fresh phrase %q instead of a recent repeat", got.ID, freshHard.ID)
	}
}

// TestCatalog_Select_Exhausted は全緩和後も候補がない場合の枯渇エラーを検証する。
func TestCatalog_Select_Exhausted(t *testing.T) {
	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			return nil, nil
		},
	}
	usages := &mockUsageRepo{}

	c := NewCatalog(phrases, usages, 30)
	_, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyMedium)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeCatalogExhausted {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeCatalogExhausted)
	}
}

// TestCatalog_Select_NoDuplicateAllDifficultyPass は難易度未指定の選定で緩和が1巡で終わることを検証する。
func TestCatalog_Select_NoDuplicateAllDifficultyPass(t *testing.T) {
	var calls int
	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			calls++
			return nil, nil
		},
	}
	usages := &mockUsageRepo{
		recentFn: func(ctx context.Context, userID string, window int) ([]string, error) {
			return []string{"a"}, nil
		},
	}

	c := NewCatalog(phrases, usages, 30)
	if _, err := c.Select(context.Background(), "u-1", "ja", ""); err == nil {
		t.Fatal("expected exhausted error")
	}
	// 窓1→0の2回のみ。難易度未指定の巡回が二重に走らないこと。
	if calls != 2 {
		t.Errorf("ListActive called %d times, want 2", calls)
	}
}

// TestCatalog_Select_RepoError はストレージ障害がそのまま伝播することを検証する。
func TestCatalog_Select_RepoError(t *testing.T) {
	phrases := &mockPhraseRepo{
		listActiveFn: func(ctx context.Context, language string, difficulty model.Difficulty, excludeIDs []string, limit int) ([]*model.Phrase, error) {
			return nil, errors.New("db down")
		},
	}
	c := NewCatalog(phrases, &mockUsageRepo{}, 30)

	_, err := c.Select(context.Background(), "u-1", "ja", model.DifficultyMedium)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Error("storage errors should not be reported as catalog exhaustion")
	}
}
