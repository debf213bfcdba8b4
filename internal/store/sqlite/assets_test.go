package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/finledger/ledgerd/internal/valuation"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestAssetRepository_UpsertAndRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	asset := &valuation.Asset{
		ID:            "a1",
		UserID:        "u1",
		Class:         valuation.ClassEquityETF,
		Status:        valuation.StatusActive,
		Symbol:        "AAPL",
		Venue:         "XNAS",
		Currency:      "USD",
		Quantity:      10,
		PurchasePrice: 150,
		PurchaseDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPrice:  160,
		UpdatedAt:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.ActiveForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ActiveForUser returned %d assets, want 1", len(got))
	}
	if got[0].Symbol != "AAPL" || got[0].CurrentPrice != 160 {
		t.Errorf("round-tripped asset = %+v, want matching AAPL/160", got[0])
	}
}

func TestAssetRepository_UpsertOverwritesOnConflict(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	asset := &valuation.Asset{
		ID: "a1", UserID: "u1", Class: valuation.ClassSavings, Status: valuation.StatusActive,
		Currency: "USD", PurchasePrice: 1000, PurchaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	asset.PurchasePrice = 2000
	asset.UpdatedAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	all, err := repo.AllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("AllForUser: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("AllForUser returned %d rows, want 1 (conflict should update, not duplicate)", len(all))
	}
	if all[0].PurchasePrice != 2000 {
		t.Errorf("PurchasePrice after conflict update = %v, want 2000", all[0].PurchasePrice)
	}
}

func TestAssetRepository_SetCurrentPrice(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	asset := &valuation.Asset{
		ID: "a1", UserID: "u1", Class: valuation.ClassEquityETF, Status: valuation.StatusActive,
		Symbol: "AAPL", Venue: "XNAS", Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now(),
	}
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.SetCurrentPrice(ctx, "a1", 999); err != nil {
		t.Fatalf("SetCurrentPrice: %v", err)
	}

	got, err := repo.ActiveForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveForUser: %v", err)
	}
	if got[0].CurrentPrice != 999 {
		t.Errorf("CurrentPrice after SetCurrentPrice = %v, want 999", got[0].CurrentPrice)
	}
}

func TestAssetRepository_BondSettingsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	freq := 12
	settings := &valuation.BondSettings{
		CapitalizationOfInterest:      true,
		CapitalizationFrequencyMonths: &freq,
		RateResetFrequencyMonths:      12,
		InterestRates: map[int]valuation.InterestPeriod{
			0: {RatePercent: 4.5},
			1: {RatePercent: 2.0},
		},
		PurchaseDate: time.Date(2024, 11, 17, 0, 0, 0, 0, time.UTC),
		MaturityDate: time.Date(2029, 11, 17, 0, 0, 0, 0, time.UTC),
	}
	asset := &valuation.Asset{
		ID: "bond1", UserID: "u1", Class: valuation.ClassBond, Status: valuation.StatusActive,
		Currency: "USD", PurchasePrice: 1000, PurchaseDate: settings.PurchaseDate,
		BondSettings: settings, UpdatedAt: time.Now(),
	}
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.AllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("AllForUser: %v", err)
	}
	if got[0].BondSettings == nil {
		t.Fatal("BondSettings round-tripped as nil")
	}
	if got[0].BondSettings.InterestRates[0].RatePercent != 4.5 {
		t.Errorf("round-tripped period 0 rate = %v, want 4.5", got[0].BondSettings.InterestRates[0].RatePercent)
	}
	if got[0].BondSettings.CapitalizationFrequencyMonths == nil || *got[0].BondSettings.CapitalizationFrequencyMonths != 12 {
		t.Error("round-tripped CapitalizationFrequencyMonths did not survive")
	}
}

func TestAssetRepository_ClosedAtRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	closed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	asset := &valuation.Asset{
		ID: "a1", UserID: "u1", Class: valuation.ClassSavings, Status: valuation.StatusClosed,
		Currency: "USD", PurchaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ClosedAt: &closed, UpdatedAt: time.Now(),
	}
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.AllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("AllForUser: %v", err)
	}
	if got[0].ClosedAt == nil || !got[0].ClosedAt.Equal(closed) {
		t.Errorf("ClosedAt round-tripped as %v, want %v", got[0].ClosedAt, closed)
	}

	active, err := repo.ActiveForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveForUser: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ActiveForUser returned %d closed assets, want 0", len(active))
	}
}

func TestAssetRepository_DistinctActiveMarketSymbols(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	assets := []*valuation.Asset{
		{ID: "a1", UserID: "u1", Class: valuation.ClassEquityETF, Status: valuation.StatusActive, Symbol: "AAPL", Venue: "XNAS", Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now()},
		{ID: "a2", UserID: "u2", Class: valuation.ClassEquityETF, Status: valuation.StatusActive, Symbol: "AAPL", Venue: "XNAS", Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now()},
		{ID: "a3", UserID: "u1", Class: valuation.ClassCrypto, Status: valuation.StatusActive, Symbol: "BTC", Venue: "CRYPTO", Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now()},
		{ID: "a4", UserID: "u1", Class: valuation.ClassSavings, Status: valuation.StatusActive, Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now()},
	}
	for _, a := range assets {
		if err := repo.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert %s: %v", a.ID, err)
		}
	}

	symbols, err := repo.DistinctActiveMarketSymbols(ctx)
	if err != nil {
		t.Fatalf("DistinctActiveMarketSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("DistinctActiveMarketSymbols returned %d pairs, want 2 (AAPL/XNAS deduped, savings excluded)", len(symbols))
	}
}

func TestAssetRepository_DistinctUserIDs(t *testing.T) {
	db := openTestDB(t)
	repo := NewAssetRepository(db)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		a := &valuation.Asset{ID: id + "-a", UserID: id, Class: valuation.ClassSavings, Status: valuation.StatusActive,
			Currency: "USD", PurchaseDate: time.Now(), UpdatedAt: time.Now()}
		if err := repo.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	ids, err := repo.DistinctUserIDs(ctx)
	if err != nil {
		t.Fatalf("DistinctUserIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("DistinctUserIDs returned %d, want 2", len(ids))
	}
}
