package persistence_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HedgeVault/internal/market"
	"HedgeVault/internal/persistence"
	"HedgeVault/internal/testutil"
	"HedgeVault/internal/vault"
)

// ============================================================================
// Test: CheckpointStore (integration)
// ============================================================================

func testCheckpoint(epoch int64) *vault.Checkpoint {
	return &vault.Checkpoint{
		Epoch: vault.Epoch(epoch),
		Totals: vault.EpochTotals{
			TotalShares: 1_000_000_000,
			NetAssets:   1_500_000_000,
		},
		GrossAssets:    1_600_000_000,
		MintedShares:   250_000_000,
		RedeemedAssets: 0,
		Snapshots: map[string]vault.PairSnapshot{
			"ETH-USD": {
				LongMaker:       300_000,
				ShortMaker:      300_000,
				LongCollateral:  450_000_000,
				ShortCollateral: 450_000_000,
			},
		},
		Versions:  map[string]market.Version{"ETH-USD": 7},
		Timestamp: 7_000_000,
		StateHash: bytes.Repeat([]byte{0xab}, 32),
		PrevHash:  bytes.Repeat([]byte{0xcd}, 32),
	}
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := persistence.NewCheckpointStore(db)

	want := testCheckpoint(3)
	if err := store.WriteCheckpoint(ctx, want); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	got, err := store.LoadCheckpoint(ctx, 3)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.Totals != want.Totals {
		t.Errorf("totals: got %+v, want %+v", got.Totals, want.Totals)
	}
	if got.Versions["ETH-USD"] != 7 {
		t.Errorf("version: got %d, want 7", got.Versions["ETH-USD"])
	}
	if got.Snapshots["ETH-USD"] != want.Snapshots["ETH-USD"] {
		t.Errorf("snapshot: got %+v, want %+v", got.Snapshots["ETH-USD"], want.Snapshots["ETH-USD"])
	}
	if !bytes.Equal(got.StateHash, want.StateHash) {
		t.Error("state hash mismatch")
	}

	latest, err := store.LatestEpoch(ctx)
	if err != nil {
		t.Fatalf("LatestEpoch: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest epoch: got %d, want 3", latest)
	}
}

func TestCheckpointStore_WriteOnce(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := persistence.NewCheckpointStore(db)

	original := testCheckpoint(5)
	if err := store.WriteCheckpoint(ctx, original); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	// A conflicting replay of the same epoch must be a silent no-op.
	conflicting := testCheckpoint(5)
	conflicting.Totals.NetAssets = 999
	conflicting.StateHash = bytes.Repeat([]byte{0x11}, 32)
	if err := store.WriteCheckpoint(ctx, conflicting); err != nil {
		t.Fatalf("replayed WriteCheckpoint: %v", err)
	}

	got, err := store.LoadCheckpoint(ctx, 5)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.Totals != original.Totals {
		t.Errorf("totals rewritten: got %+v, want %+v", got.Totals, original.Totals)
	}
	if !bytes.Equal(got.StateHash, original.StateHash) {
		t.Error("state hash rewritten")
	}
}

func TestCheckpointStore_EmptyLatestEpoch(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := persistence.NewCheckpointStore(db)

	latest, err := store.LatestEpoch(ctx)
	if err != nil {
		t.Fatalf("LatestEpoch: %v", err)
	}
	if latest != -1 {
		t.Errorf("latest epoch on empty table: got %d, want -1", latest)
	}
}

func TestCheckpointStore_WriteEvents(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := persistence.NewCheckpointStore(db)

	events := []vault.Event{
		{Type: vault.EventDepositRecorded, Epoch: 1, Account: uuid.New(), Amount: 1_000_000_000, Timestamp: 2_000_000},
		{Type: vault.EventEpochSettled, Epoch: 2, Amount: 0, Timestamp: 3_000_000},
	}
	if err := store.WriteEvents(ctx, events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault.events`).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 2 {
		t.Errorf("event rows: got %d, want 2", n)
	}

	// The keeper sentinel account is stored as NULL.
	var nulls int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault.events WHERE account IS NULL`,
	).Scan(&nulls); err != nil {
		t.Fatalf("count null accounts: %v", err)
	}
	if nulls != 1 {
		t.Errorf("null account rows: got %d, want 1", nulls)
	}
}
