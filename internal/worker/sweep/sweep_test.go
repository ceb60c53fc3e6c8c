package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック ---

type mockSweeper struct {
	sweepFn func(ctx context.Context) (int64, error)
	calls   atomic.Int64 // Startのゴルーチンからも書き込まれる
}

func (m *mockSweeper) Sweep(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	if m.sweepFn != nil {
		return m.sweepFn(ctx)
	}
	return 0, nil
}

type mockAbandoner struct {
	abandonFn func(ctx context.Context) (int64, error)
	calls     int
}

func (m *mockAbandoner) AbandonStale(ctx context.Context) (int64, error) {
	m.calls++
	if m.abandonFn != nil {
		return m.abandonFn(ctx)
	}
	return 0, nil
}

type mockPurger struct {
	purgeFn func(ctx context.Context, cutoff time.Time) (int64, error)
	calls   int
}

func (m *mockPurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.calls++
	if m.purgeFn != nil {
		return m.purgeFn(ctx, cutoff)
	}
	return 0, nil
}

type mockCollector struct {
	sweepDeleted int64
}

func (m *mockCollector) RecordChallengeIssued(difficulty string)    {}
func (m *mockCollector) RecordDecision(reason string)               {}
func (m *mockCollector) RecordOracleLatency(duration time.Duration) {}
func (m *mockCollector) RecordSampleRejected()                      {}
func (m *mockCollector) RecordSweepDeleted(count int64)             { m.sweepDeleted += count }
func (m *mockCollector) RecordSessionFinalized(state string)        {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

// TestSweepJob_Run は3つの掃除処理の実行とメトリクス計上を検証する。
func TestSweepJob_Run(t *testing.T) {
	sweeper := &mockSweeper{
		sweepFn: func(ctx context.Context) (int64, error) { return 7, nil },
	}
	abandoner := &mockAbandoner{
		abandonFn: func(ctx context.Context) (int64, error) { return 2, nil },
	}
	var gotCutoff time.Time
	purger := &mockPurger{
		purgeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 100, nil
		},
	}
	collector := &mockCollector{}

	job := NewSweepJob(sweeper, abandoner, purger, collector, discardLogger(), 365)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sweeper.calls.Load() != 1 || abandoner.calls != 1 || purger.calls != 1 {
		t.Errorf("calls = (%d, %d, %d), want (1, 1, 1)", sweeper.calls.Load(), abandoner.calls, purger.calls)
	}
	if collector.sweepDeleted != 7 {
		t.Errorf("sweepDeleted = %d, want 7", collector.sweepDeleted)
	}

	// カットオフは保持期間（365日）前
	wantCutoff := time.Now().UTC().AddDate(0, 0, -365)
	if diff := gotCutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want around %v", gotCutoff, wantCutoff)
	}
}

// TestSweepJob_Run_NoDeletions は削除件数0の場合にメトリクスを計上しないことを検証する。
func TestSweepJob_Run_NoDeletions(t *testing.T) {
	collector := &mockCollector{}
	job := NewSweepJob(&mockSweeper{}, &mockAbandoner{}, &mockPurger{}, collector, discardLogger(), 365)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collector.sweepDeleted != 0 {
		t.Errorf("sweepDeleted = %d, want 0", collector.sweepDeleted)
	}
}

// TestSweepJob_Run_ContinuesPastFailure は一部失敗時の続行と先頭エラーの返却を検証する。
func TestSweepJob_Run_ContinuesPastFailure(t *testing.T) {
	sweepErr := errors.New("db down")
	sweeper := &mockSweeper{
		sweepFn: func(ctx context.Context) (int64, error) { return 0, sweepErr },
	}
	abandoner := &mockAbandoner{}
	purger := &mockPurger{}

	job := NewSweepJob(sweeper, abandoner, purger, &mockCollector{}, discardLogger(), 365)
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, sweepErr) {
		t.Errorf("error should wrap the sweep failure, got %v", err)
	}
	// 失敗後も残りの処理は実行される
	if abandoner.calls != 1 || purger.calls != 1 {
		t.Errorf("remaining jobs should still run, calls = (%d, %d)", abandoner.calls, purger.calls)
	}
}

// TestSweepJob_Run_FirstErrorWins は複数失敗時に最初のエラーが返ることを検証する。
func TestSweepJob_Run_FirstErrorWins(t *testing.T) {
	firstErr := errors.New("sweep failed")
	secondErr := errors.New("abandon failed")
	sweeper := &mockSweeper{
		sweepFn: func(ctx context.Context) (int64, error) { return 0, firstErr },
	}
	abandoner := &mockAbandoner{
		abandonFn: func(ctx context.Context) (int64, error) { return 0, secondErr },
	}

	job := NewSweepJob(sweeper, abandoner, &mockPurger{}, &mockCollector{}, discardLogger(), 365)
	err := job.Run(context.Background())
	if !errors.Is(err, firstErr) {
		t.Errorf("first error should be returned, got %v", err)
	}
	if errors.Is(err, secondErr) {
		t.Errorf("later errors should not replace the first, got %v", err)
	}
}

// TestSweepJob_Start_RunsImmediatelyAndStops は起動直後の実行とキャンセルでの停止を検証する。
func TestSweepJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewSweepJob(sweeper, &mockAbandoner{}, &mockPurger{}, &mockCollector{}, discardLogger(), 365)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 初回実行はティッカーを待たずに行われる
	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial run did not happen")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
