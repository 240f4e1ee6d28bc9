package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"HedgeVault/internal/market"
	"HedgeVault/internal/vault"
)

// CheckpointStore persists epoch checkpoints and the event log to
// Postgres. Checkpoints are write-once: inserts carry ON CONFLICT DO
// NOTHING so replaying the same history is idempotent and can never
// rewrite a finalized epoch.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// WriteCheckpoint inserts the checkpoint row and its per-pair snapshots
// in one transaction.
func (s *CheckpointStore) WriteCheckpoint(ctx context.Context, cp *vault.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vault.epoch_checkpoints
			(epoch, total_shares, net_assets, gross_assets, minted_shares, redeemed_assets, oracle_ts, state_hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (epoch) DO NOTHING`,
		int64(cp.Epoch), cp.Totals.TotalShares, cp.Totals.NetAssets,
		cp.GrossAssets, cp.MintedShares, cp.RedeemedAssets,
		cp.Timestamp, cp.StateHash, cp.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint %d: %w", cp.Epoch, err)
	}

	if len(cp.Versions) > 0 {
		ids := make([]string, 0, len(cp.Versions))
		for id := range cp.Versions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		values := make([]string, 0, len(ids))
		args := make([]interface{}, 0, len(ids)*8)
		for i, id := range ids {
			base := i * 8
			values = append(values, fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
			))
			snap := cp.Snapshots[id]
			args = append(args,
				int64(cp.Epoch), id, int64(cp.Versions[id]),
				snap.LongMaker, snap.ShortMaker,
				snap.LongCollateral, snap.ShortCollateral,
				cp.Timestamp,
			)
		}

		query := `INSERT INTO vault.epoch_pair_snapshots
			(epoch, pair_id, oracle_version, long_maker, short_maker, long_collateral, short_collateral, oracle_ts)
			VALUES ` + strings.Join(values, ", ") +
			` ON CONFLICT (epoch, pair_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert snapshots for epoch %d: %w", cp.Epoch, err)
		}
	}

	return tx.Commit()
}

// WriteEvents appends a batch of vault events to the event log.
func (s *CheckpointStore) WriteEvents(ctx context.Context, events []vault.Event) error {
	if len(events) == 0 {
		return nil
	}

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)
	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		var account *string
		if e.Account != uuid.Nil {
			a := e.Account.String()
			account = &a
		}
		args = append(args,
			string(e.Type), int64(e.Epoch), account, e.Amount, e.StateHash, e.Timestamp,
		)
	}

	query := `INSERT INTO vault.events
		(event_type, epoch, account, amount, state_hash, oracle_ts)
		VALUES ` + strings.Join(values, ", ")
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// LatestEpoch returns the newest persisted checkpoint epoch, or -1 when
// none exist yet.
func (s *CheckpointStore) LatestEpoch(ctx context.Context) (int64, error) {
	var epoch sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(epoch) FROM vault.epoch_checkpoints`,
	).Scan(&epoch)
	if err != nil {
		return 0, err
	}
	if !epoch.Valid {
		return -1, nil
	}
	return epoch.Int64, nil
}

// LoadCheckpoint reads one persisted checkpoint with its pair snapshots.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, epoch int64) (*vault.Checkpoint, error) {
	cp := &vault.Checkpoint{
		Epoch:     vault.Epoch(epoch),
		Snapshots: make(map[string]vault.PairSnapshot),
		Versions:  make(map[string]market.Version),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT total_shares, net_assets, gross_assets, minted_shares, redeemed_assets, oracle_ts, state_hash, prev_hash
		FROM vault.epoch_checkpoints WHERE epoch = $1`,
		epoch,
	).Scan(
		&cp.Totals.TotalShares, &cp.Totals.NetAssets, &cp.GrossAssets,
		&cp.MintedShares, &cp.RedeemedAssets, &cp.Timestamp,
		&cp.StateHash, &cp.PrevHash,
	)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %d: %w", epoch, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, oracle_version, long_maker, short_maker, long_collateral, short_collateral
		FROM vault.epoch_pair_snapshots WHERE epoch = $1`,
		epoch,
	)
	if err != nil {
		return nil, fmt.Errorf("load snapshots %d: %w", epoch, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var version int64
		var snap vault.PairSnapshot
		if err := rows.Scan(&id, &version, &snap.LongMaker, &snap.ShortMaker,
			&snap.LongCollateral, &snap.ShortCollateral); err != nil {
			return nil, err
		}
		cp.Versions[id] = market.Version(version)
		cp.Snapshots[id] = snap
	}
	return cp, rows.Err()
}
