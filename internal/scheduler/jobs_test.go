package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/ingest"
	"github.com/finledger/ledgerd/internal/quote"
	"github.com/finledger/ledgerd/internal/store/sqlite"
	"github.com/finledger/ledgerd/internal/valuation"
)

func newTestIngestJobs(t *testing.T, handler http.HandlerFunc) *ingest.Jobs {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	db, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	return &ingest.Jobs{
		Quote:       quote.NewClient("test-key", quote.WithBaseURL(server.URL)),
		Bars:        sqlite.NewBarRepository(db),
		Instruments: sqlite.NewInstrumentRepository(db),
		FX:          sqlite.NewFXRepository(db),
		Assets:      sqlite.NewAssetRepository(db),
		Logger:      common.NewSilentLogger(),
	}
}

func TestNewFXRefreshJob_NameAndDelegation(t *testing.T) {
	jobs := newTestIngestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"symbol": "EUR/USD", "rate": 1.1, "timestamp": time.Now().Unix()})
	})
	jobs.FXPairs = []string{"EUR/USD"}
	job := NewFXRefreshJob(jobs)
	if job.Name() != "fx_refresh" {
		t.Errorf("Name() = %q, want fx_refresh", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewDirectoryRefreshJob_NameAndDelegation(t *testing.T) {
	jobs := newTestIngestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
	})
	job := NewDirectoryRefreshJob(jobs)
	if job.Name() != "directory_refresh" {
		t.Errorf("Name() = %q, want directory_refresh", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewLatestHourlyJob_Name(t *testing.T) {
	jobs := newTestIngestJobs(t, func(w http.ResponseWriter, r *http.Request) {})
	job := NewLatestHourlyJob(jobs)
	if job.Name() != "latest_hourly_bars" {
		t.Errorf("Name() = %q, want latest_hourly_bars", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewDailyCloseJob_Name(t *testing.T) {
	jobs := newTestIngestJobs(t, func(w http.ResponseWriter, r *http.Request) {})
	job := NewDailyCloseJob(jobs)
	if job.Name() != "daily_close_bars" {
		t.Errorf("Name() = %q, want daily_close_bars", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewRetentionPurgeJob_Name(t *testing.T) {
	jobs := newTestIngestJobs(t, func(w http.ResponseWriter, r *http.Request) {})
	job := NewRetentionPurgeJob(jobs)
	if job.Name() != "retention_purge" {
		t.Errorf("Name() = %q, want retention_purge", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}
}

type recordingStatLogger struct{}

func (recordingStatLogger) Warn(userID, assetID string, err error) {}

func TestNewRebuildAllJob_NameAndDelegation(t *testing.T) {
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	assets := sqlite.NewAssetRepository(db)
	asset := &valuation.Asset{
		ID: "a1", UserID: "u1", Class: valuation.ClassSavings, Status: valuation.StatusActive,
		Currency: "USD", PurchasePrice: 100, PurchaseDate: time.Now(), UpdatedAt: time.Now(),
	}
	if err := assets.Upsert(context.Background(), asset); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	builder := &valuation.StatBuilder{
		Assets:   assets,
		Stats:    sqlite.NewStatisticRepository(db),
		Resolver: valuation.NewResolver(sqlite.NewBarRepository(db)),
		FX:       valuation.NewFXTable(sqlite.NewFXRepository(db)),
		Locks:    valuation.NewUserLocks(),
		Logger:   recordingStatLogger{},
	}

	job := NewRebuildAllJob(builder)
	if job.Name() != "rebuild_all" {
		t.Errorf("Name() = %q, want rebuild_all", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}

	stats, err := sqlite.NewStatisticRepository(db).ForUserOrdered(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ForUserOrdered: %v", err)
	}
	if len(stats) != 1 {
		t.Errorf("rebuild_all job did not produce a statistic row: got %d", len(stats))
	}
}

type fakeAssetLister struct {
	batches [][]*valuation.Asset
	calls   int
}

func (f *fakeAssetLister) UpdatedSince(ctx context.Context, since time.Time) ([]*valuation.Asset, error) {
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

type fakeAssetEventHandler struct {
	created, mutated, closed []string
}

func (h *fakeAssetEventHandler) OnAssetCreated(ctx context.Context, asset *valuation.Asset) error {
	h.created = append(h.created, asset.ID)
	return nil
}
func (h *fakeAssetEventHandler) OnAssetMutated(ctx context.Context, asset *valuation.Asset) error {
	h.mutated = append(h.mutated, asset.ID)
	return nil
}
func (h *fakeAssetEventHandler) OnAssetClosed(ctx context.Context, asset *valuation.Asset) error {
	h.closed = append(h.closed, asset.ID)
	return nil
}

func TestAssetIntakeJob_ClassifiesCreatedMutatedClosed(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeAssetLister{batches: [][]*valuation.Asset{
		{
			{ID: "a1", Status: valuation.StatusActive, UpdatedAt: t0},
		},
		{
			{ID: "a1", Status: valuation.StatusActive, UpdatedAt: t0.Add(time.Hour)},
			{ID: "a2", Status: valuation.StatusClosed, UpdatedAt: t0.Add(time.Hour)},
		},
	}}
	handler := &fakeAssetEventHandler{}
	job := NewAssetIntakeJob(lister, handler)

	if job.Name() != "asset_intake" {
		t.Errorf("Name() = %q, want asset_intake", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(handler.created) != 1 || handler.created[0] != "a1" {
		t.Errorf("created = %v, want [a1] (a1's first sighting)", handler.created)
	}
	if len(handler.mutated) != 1 || handler.mutated[0] != "a1" {
		t.Errorf("mutated = %v, want [a1] (a1's second, still-active sighting)", handler.mutated)
	}
	if len(handler.closed) != 1 || handler.closed[0] != "a2" {
		t.Errorf("closed = %v, want [a2] (a2 arrives already closed)", handler.closed)
	}
}
