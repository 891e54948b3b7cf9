package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexHistory/internal/model"
	"dexHistory/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const foreignKeyViolation = "23503"

// Store provides Postgres persistence for pools, events and market rows.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded migrations that were not applied yet, in
// file name order, and returns their names.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var applied []string
	for _, file := range files {
		ok, err := s.applyMigration(ctx, file)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, file)
		}
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, file string) (bool, error) {
	body, err := migrations.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, file).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", file, err)
	}
	if exists {
		return false, nil
	}
	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return false, fmt.Errorf("apply %s: %w", file, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file); err != nil {
		return false, fmt.Errorf("record %s: %w", file, err)
	}
	return true, tx.Commit(ctx)
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var height int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(height), true, nil
}

// CommitBlock writes every row of w and moves the checkpoint of name to the
// block height in one transaction. Rows whose id already exists are skipped.
func (s *Store) CommitBlock(ctx context.Context, name string, w model.BlockWrite) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin block %d: %w", w.Block.Height, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueTokens(batch, w.Tokens)
	queuePools(batch, w.Pools)
	queueEvents(batch, w.Events)
	queueVolumes(batch, w.Volumes)
	queueReserves(batch, w.Reserves)
	queuePrices(batch, w.Prices)
	queueCandlesticks(batch, w.Candlesticks)
	batch.Queue(`
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(w.Block.Height))

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("block %d: %w", w.Block.Height, mapError(err))
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("block %d: %w", w.Block.Height, mapError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit block %d: %w", w.Block.Height, err)
	}
	return nil
}

// TruncateFrom deletes every row created at or above height and rewinds the
// checkpoint of name.
func (s *Store) TruncateFrom(ctx context.Context, name string, height uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	h := int64(height)
	statements := []string{
		`DELETE FROM candlestick WHERE block_height >= $1`,
		`DELETE FROM token_price WHERE block_height >= $1`,
		`DELETE FROM reserved_raw WHERE block_height >= $1`,
		`DELETE FROM volume_raw WHERE block_height >= $1`,
		`DELETE FROM pool_event WHERE block_height >= $1`,
		`DELETE FROM pool WHERE block_height >= $1`,
		`DELETE FROM token WHERE block_height >= $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, h); err != nil {
			return fmt.Errorf("truncate from %d: %w", height, err)
		}
	}
	if height == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM indexer_state WHERE name=$1`, name)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE indexer_state SET last_processed_block = $2, updated_at = now()
			WHERE name=$1 AND last_processed_block >= $2
		`, name, h-1)
	}
	if err != nil {
		return fmt.Errorf("rewind state %s: %w", name, err)
	}
	return tx.Commit(ctx)
}

// SetPoolVerified marks a pool as verified.
func (s *Store) SetPoolVerified(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pool SET verified = TRUE WHERE address=$1`, model.NormalizeAddress(address))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrPoolNotFound, address)
	}
	return nil
}

// SetTokenApproved sets or clears the moderation flag of a token.
func (s *Store) SetTokenApproved(ctx context.Context, address string, approved *bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE token SET approved = $2 WHERE address=$1`, model.NormalizeAddress(address), approved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	return nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return err
	}
	if strings.HasSuffix(pgErr.ConstraintName, "pool_id_fkey") {
		return fmt.Errorf("%w: %s", storage.ErrPoolNotFound, pgErr.Detail)
	}
	return fmt.Errorf("%w: %s", storage.ErrNotFound, pgErr.Detail)
}

func queueTokens(batch *pgx.Batch, tokens []model.Token) {
	for _, t := range tokens {
		batch.Queue(`
			INSERT INTO token (address, decimals, name, symbol, approved, icon_url, block_height)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (address) DO NOTHING
		`, t.Address, int16(t.Decimals), t.Name, t.Symbol, t.Approved, t.IconURL, int64(t.BlockHeight))
	}
}

func queuePools(batch *pgx.Batch, pools []model.Pool) {
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pool (address, token1, token2, decimals1, decimals2, event_id, block_height, verified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (address) DO NOTHING
		`, p.Address, p.Token1, p.Token2, int16(p.Decimals1), int16(p.Decimals2), p.EventID, int64(p.BlockHeight), p.Verified)
	}
}

func queueEvents(batch *pgx.Batch, events []model.PoolEvent) {
	for _, e := range events {
		batch.Queue(`
			INSERT INTO pool_event (
				id, pool_id, type, block_height, index_in_block, block_timestamp,
				sender_address, to_address, signer_address,
				amount1, amount2, amount_in1, amount_in2, reserved1, reserved2, supply, total_supply
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9,
				$10::numeric, $11::numeric, $12::numeric, $13::numeric,
				$14::numeric, $15::numeric, $16::numeric, $17::numeric
			)
			ON CONFLICT (id) DO NOTHING
		`,
			e.ID,
			e.PoolID,
			string(e.Type),
			int64(e.BlockHeight),
			int64(e.IndexInBlock),
			e.Timestamp,
			e.SenderAddress,
			e.ToAddress,
			e.SignerAddress,
			numeric(e.Amount1),
			numeric(e.Amount2),
			numeric(e.AmountIn1),
			numeric(e.AmountIn2),
			numeric(e.Reserved1),
			numeric(e.Reserved2),
			numeric(e.Supply),
			numeric(e.TotalSupply),
		)
	}
}

func queueVolumes(batch *pgx.Batch, rows []model.VolumeRaw) {
	for _, v := range rows {
		batch.Queue(`
			INSERT INTO volume_raw (id, block_height, block_hash, pool_id, volume1, volume2, block_timestamp)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
			ON CONFLICT (id) DO NOTHING
		`, v.ID, int64(v.BlockHeight), v.BlockHash, v.PoolID, numericOrZero(v.Volume1), numericOrZero(v.Volume2), v.Timestamp)
	}
}

func queueReserves(batch *pgx.Batch, rows []model.ReservedRaw) {
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO reserved_raw (id, block_height, block_hash, event_id, pool_id, reserved1, reserved2, block_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, int64(r.BlockHeight), r.BlockHash, r.EventID, r.PoolID, numericOrZero(r.Reserved1), numericOrZero(r.Reserved2), r.Timestamp)
	}
}

func queuePrices(batch *pgx.Batch, rows []model.TokenPrice) {
	for _, p := range rows {
		batch.Queue(`
			INSERT INTO token_price (id, block_height, token, price, block_timestamp)
			VALUES ($1, $2, $3, $4::numeric, $5)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, int64(p.BlockHeight), p.Token, p.Price.String(), p.Timestamp)
	}
}

func queueCandlesticks(batch *pgx.Batch, rows []model.Candlestick) {
	for _, c := range rows {
		batch.Queue(`
			INSERT INTO candlestick (id, block_height, block_hash, pool_id, token, open, high, low, close, block_timestamp)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10)
			ON CONFLICT (id) DO NOTHING
		`, c.ID, int64(c.BlockHeight), c.BlockHash, c.PoolID, c.Token,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Timestamp)
	}
}
