package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/quote"
	"github.com/finledger/ledgerd/internal/store/sqlite"
	"github.com/finledger/ledgerd/internal/valuation"
)

func newTestJobs(t *testing.T, handler http.HandlerFunc) (*Jobs, *sqlite.DB) {
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

	client := quote.NewClient("test-key", quote.WithBaseURL(server.URL))
	return &Jobs{
		Quote:       client,
		Bars:        sqlite.NewBarRepository(db),
		Instruments: sqlite.NewInstrumentRepository(db),
		FX:          sqlite.NewFXRepository(db),
		Assets:      sqlite.NewAssetRepository(db),
		Logger:      common.NewSilentLogger(),
		FXPairs:     []string{"EUR/USD", "GBP/USD"},
	}, db
}

func TestJobs_RefreshDirectory_UpsertsAllThreeKinds(t *testing.T) {
	jobs, db := newTestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"symbol": "X", "mic_code": "XNAS", "name": "X Corp"}},
		})
	})

	if err := jobs.RefreshDirectory(context.Background()); err != nil {
		t.Fatalf("RefreshDirectory: %v", err)
	}

	got, err := sqlite.NewInstrumentRepository(db).Get(context.Background(), "X", "XNAS")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Error("RefreshDirectory did not persist the instrument")
	}
}

func TestJobs_RefreshDirectory_AllKindsFailingIsError(t *testing.T) {
	jobs, _ := newTestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if err := jobs.RefreshDirectory(context.Background()); err == nil {
		t.Error("RefreshDirectory with all kinds failing: want error, got nil")
	}
}

func TestJobs_RefreshFX_UpsertsConfiguredPairs(t *testing.T) {
	jobs, db := newTestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": symbol, "rate": 1.1, "timestamp": time.Now().Unix(),
		})
	})

	if err := jobs.RefreshFX(context.Background()); err != nil {
		t.Fatalf("RefreshFX: %v", err)
	}

	got, err := sqlite.NewFXRepository(db).GetFXRate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatalf("GetFXRate: %v", err)
	}
	if got == nil || got.Rate != 1.1 {
		t.Errorf("GetFXRate after RefreshFX = %+v, want rate 1.1", got)
	}
}

func TestJobs_RefreshFX_PartialFailureLeavesOldRowIntact(t *testing.T) {
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	fxRepo := sqlite.NewFXRepository(db)
	if err := fxRepo.UpsertFXRates(context.Background(), []valuation.FXRate{
		{SourceCcy: "EUR", TargetCcy: "USD", Rate: 1.05, FetchedAt: time.Now()},
	}); err != nil {
		t.Fatalf("seed UpsertFXRates: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	jobs := &Jobs{
		Quote:       quote.NewClient("test-key", quote.WithBaseURL(server.URL)),
		Bars:        sqlite.NewBarRepository(db),
		Instruments: sqlite.NewInstrumentRepository(db),
		FX:          fxRepo,
		Assets:      sqlite.NewAssetRepository(db),
		Logger:      common.NewSilentLogger(),
		FXPairs:     []string{"EUR/USD"},
	}

	if err := jobs.RefreshFX(context.Background()); err == nil {
		t.Error("RefreshFX with every pair failing: want error, got nil")
	}

	got, err := fxRepo.GetFXRate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatalf("GetFXRate: %v", err)
	}
	if got == nil || got.Rate != 1.05 {
		t.Errorf("pre-existing FX row was disturbed by a failed refresh: got %+v", got)
	}
}

func TestJobs_FetchLatestHourly_IsolatesPerSymbolFailure(t *testing.T) {
	var requests int
	jobs, db := newTestJobs(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		symbol := r.URL.Query().Get("symbol")
		if symbol == "BAD" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"meta": map[string]string{"currency": "USD"},
			"values": []map[string]string{
				{"datetime": "2024-01-01 00:00:00", "open": "1", "high": "1", "low": "1", "close": "1", "volume": "1"},
			},
		})
	})

	assets := sqlite.NewAssetRepository(db)
	for _, sym := range []string{"GOOD", "BAD"} {
		a := &valuation.Asset{
			ID: sym, UserID: "u1", Class: valuation.ClassEquityETF, Status: valuation.StatusActive,
			Symbol: sym, Venue: "XNAS", Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now(),
		}
		if err := assets.Upsert(context.Background(), a); err != nil {
			t.Fatalf("Upsert asset %s: %v", sym, err)
		}
	}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := jobs.FetchLatestHourly(context.Background(), now); err != nil {
		t.Fatalf("FetchLatestHourly: %v", err)
	}
	if requests != 2 {
		t.Errorf("FetchLatestHourly made %d requests, want 2 (one per active symbol)", requests)
	}

	bars := sqlite.NewBarRepository(db)
	got, err := bars.Query(context.Background(), "GOOD", "XNAS", valuation.Interval1Hour,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("the GOOD symbol's bar was not stored despite the BAD symbol's failure: got %d bars", len(got))
	}
}

func TestJobs_PurgeRetention_DeletesOldHourlyBars(t *testing.T) {
	jobs, db := newTestJobs(t, func(w http.ResponseWriter, r *http.Request) {})
	bars := sqlite.NewBarRepository(db)
	old := valuation.Bar{Symbol: "X", Venue: "XNAS", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval: valuation.Interval1Hour, Open: 1, High: 1, Low: 1, Close: 1}
	if err := bars.UpsertBars(context.Background(), []valuation.Bar{old}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := jobs.PurgeRetention(context.Background(), now); err != nil {
		t.Fatalf("PurgeRetention: %v", err)
	}

	got, err := bars.Query(context.Background(), "X", "XNAS", valuation.Interval1Hour,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Error("PurgeRetention did not delete the 30-day-stale hourly bar")
	}
}
