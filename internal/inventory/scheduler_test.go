package inventory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/internal/sources"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

type countingAdapter struct {
	calls  atomic.Int32
	result *sources.IngestionResult
	err    error
}

func (a *countingAdapter) FetchAndNormalize(ctx context.Context, src *models.SourceAggregate, auth *models.AuthConfig) (*sources.IngestionResult, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

func (a *countingAdapter) ValidateURL(ctx context.Context, rawURL string, auth *models.AuthConfig) bool {
	return true
}

func seedScheduler(t *testing.T, adapter *countingAdapter) (*Scheduler, storage.StoreSet) {
	t.Helper()
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	now := time.Now()

	enabled := models.NewSourceAggregate("src-enabled", "A", "https://a.example.com/openapi.json",
		models.SourceTypeOpenAPI, models.AuthModeNone, now)
	disabled := models.NewSourceAggregate("src-disabled", "B", "https://b.example.com/openapi.json",
		models.SourceTypeOpenAPI, models.AuthModeNone, now)
	disabled.SetEnabled(false, now)
	if err := stores.Sources.Add(ctx, enabled); err != nil {
		t.Fatal(err)
	}
	if err := stores.Sources.Add(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	registry := sources.NewRegistry()
	registry.Register(models.SourceTypeOpenAPI, adapter)
	rec := NewReconciler(stores.Sources, stores.Tools, registry, nil)

	return NewScheduler(rec, stores.Sources, SchedulerConfig{
		Interval:    time.Hour,
		Concurrency: 2,
	}), stores
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerRefreshAllSkipsDisabled(t *testing.T) {
	adapter := &countingAdapter{result: ingestion(t, toolDef("ping", "Ping"))}
	sched, stores := seedScheduler(t, adapter)

	if err := sched.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1 (disabled source skipped)", got)
	}

	src, err := stores.Sources.Get(context.Background(), "src-disabled")
	if err != nil {
		t.Fatal(err)
	}
	if !src.LastSyncAt.IsZero() {
		t.Error("disabled source was synced")
	}
}

func TestSchedulerSweepSurvivesFailures(t *testing.T) {
	adapter := &countingAdapter{err: models.NewUpstreamConnError("refused")}
	sched, stores := seedScheduler(t, adapter)

	// A second enabled source shares the failing adapter.
	other := models.NewSourceAggregate("src-other", "C", "https://c.example.com/openapi.json",
		models.SourceTypeOpenAPI, models.AuthModeNone, time.Now())
	if err := stores.Sources.Add(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	if err := sched.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll() error = %v, failures must not abort the sweep", err)
	}
	if got := adapter.calls.Load(); got != 2 {
		t.Errorf("adapter calls = %d, want 2", got)
	}
}

func TestSchedulerRunOnStart(t *testing.T) {
	adapter := &countingAdapter{result: ingestion(t, toolDef("ping", "Ping"))}
	sched, _ := seedScheduler(t, adapter)
	sched.config.RunOnStart = true

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sched.Stop(context.Background())

	waitFor(t, func() bool { return adapter.calls.Load() >= 1 })
}

func TestSchedulerStopIdempotent(t *testing.T) {
	adapter := &countingAdapter{result: ingestion(t)}
	sched, _ := seedScheduler(t, adapter)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	// Start after stop spins up a fresh cron.
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
