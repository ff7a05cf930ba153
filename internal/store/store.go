// Package store implements the durable event store: an append-only
// registry of offices, state changes, and raw samples (spec §4.8). It
// is grounded on the teacher's Plex-library SQLite access
// (internal/plex/dvr.go, internal/plex/lineup.go) — same
// database/sql + modernc.org/sqlite driver, same
// CREATE TABLE IF NOT EXISTS / PRAGMA table_info schema-evolution idiom.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/snapetech/siteslam/internal/domain"
)

// ErrUnknownOffice is returned when a caller references an office name
// absent from the registry (spec §7).
var ErrUnknownOffice = errors.New("store: unknown office")

// Store is the durable, append-only event store.
type Store struct {
	db *sql.DB

	// writeMu serializes per-office state-change ingestion so that
	// from_state derivation (a read followed by an insert) is not
	// racing a concurrent submission for the same office, per the open
	// question in spec design note §9. A single mutex rather than a
	// per-office map keeps this store simple; the ingest surface is not
	// expected to be so write-heavy that this becomes a bottleneck.
	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema, including schema-evolution for the retry
// threshold columns (spec §4.8).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writer access
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			gateway_ip TEXT NOT NULL DEFAULT '',
			mx_ip TEXT NOT NULL DEFAULT '',
			tunnel_probe_ip TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS state_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			office_id INTEGER NOT NULL,
			at_ts INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			sample_gateway INTEGER NOT NULL,
			sample_mx INTEGER NOT NULL,
			sample_ipsec INTEGER NOT NULL,
			UNIQUE(office_id, at_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_changes_office_at ON state_changes(office_id, at_ts)`,
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			office_id INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			gateway INTEGER NOT NULL,
			mx INTEGER NOT NULL,
			ipsec INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_office_ts ON samples(office_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return s.ensureRetryColumns()
}

// ensureRetryColumns adds retries_down/retries_up to offices if a
// pre-existing database predates them, defaulting existing rows to
// 2/1 (spec §4.8 "Schema evolution"). Mirrors the teacher's
// lineupColumnNames PRAGMA table_info probe in internal/plex/lineup.go.
func (s *Store) ensureRetryColumns() error {
	have := map[string]bool{}
	rows, err := s.db.Query(`PRAGMA table_info(offices)`)
	if err != nil {
		return fmt.Errorf("store: table_info offices: %w", err)
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()

	if !have["retries_down"] {
		if _, err := s.db.Exec(fmt.Sprintf(
			`ALTER TABLE offices ADD COLUMN retries_down INTEGER NOT NULL DEFAULT %d`,
			domain.DefaultRetriesDown)); err != nil {
			return fmt.Errorf("store: add retries_down: %w", err)
		}
	}
	if !have["retries_up"] {
		if _, err := s.db.Exec(fmt.Sprintf(
			`ALTER TABLE offices ADD COLUMN retries_up INTEGER NOT NULL DEFAULT %d`,
			domain.DefaultRetriesUp)); err != nil {
			return fmt.Errorf("store: add retries_up: %w", err)
		}
	}
	return nil
}

// UpsertOffice creates the office if absent, otherwise updates every
// field but id (spec §4.6). Idempotent; returns the stable office id.
func (s *Store) UpsertOffice(ctx context.Context, o domain.Office) (int64, error) {
	retriesDown := o.RetriesDown
	if retriesDown <= 0 {
		retriesDown = domain.DefaultRetriesDown
	}
	retriesUp := o.RetriesUp
	if retriesUp <= 0 {
		retriesUp = domain.DefaultRetriesUp
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offices (name, gateway_ip, mx_ip, tunnel_probe_ip, retries_down, retries_up)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			gateway_ip = excluded.gateway_ip,
			mx_ip = excluded.mx_ip,
			tunnel_probe_ip = excluded.tunnel_probe_ip,
			retries_down = excluded.retries_down,
			retries_up = excluded.retries_up
	`, o.Name, o.GatewayIP, o.MXIP, o.TunnelProbeIP, retriesDown, retriesUp)
	if err != nil {
		return 0, fmt.Errorf("store: upsert office %q: %w", o.Name, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM offices WHERE name = ?`, o.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: read back office id %q: %w", o.Name, err)
	}
	return id, nil
}

// OfficeByName returns the registered office, or ErrUnknownOffice.
func (s *Store) OfficeByName(ctx context.Context, name string) (domain.Office, error) {
	var o domain.Office
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, gateway_ip, mx_ip, tunnel_probe_ip, retries_down, retries_up
		FROM offices WHERE name = ?`, name,
	).Scan(&o.ID, &o.Name, &o.GatewayIP, &o.MXIP, &o.TunnelProbeIP, &o.RetriesDown, &o.RetriesUp)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Office{}, ErrUnknownOffice
	}
	if err != nil {
		return domain.Office{}, fmt.Errorf("store: office by name %q: %w", name, err)
	}
	return o, nil
}

// Offices returns every registered office (optionally filtered by
// name), ordered by name ascending (spec §4.7 "Determinism").
func (s *Store) Offices(ctx context.Context, nameFilter string) ([]domain.Office, error) {
	query := `SELECT id, name, gateway_ip, mx_ip, tunnel_probe_ip, retries_down, retries_up FROM offices`
	args := []any{}
	if nameFilter != "" {
		query += ` WHERE name = ?`
		args = append(args, nameFilter)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list offices: %w", err)
	}
	defer rows.Close()

	var out []domain.Office
	for rows.Next() {
		var o domain.Office
		if err := rows.Scan(&o.ID, &o.Name, &o.GatewayIP, &o.MXIP, &o.TunnelProbeIP, &o.RetriesDown, &o.RetriesUp); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// IngestStateChange persists one confirmed transition, deriving
// from_state server-side from the strictly-prior event for the same
// office (spec §3, §4.6). Returns inserted=false on a duplicate
// (office_id, at) submission, which is not an error (spec §7
// DuplicateStateChange).
func (s *Store) IngestStateChange(ctx context.Context, officeName string, newState domain.State, sample domain.Sample, at int64) (inserted bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	office, err := s.OfficeByName(ctx, officeName)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin ingest state change: %w", err)
	}
	defer tx.Rollback()

	fromState := domain.StateUnknown
	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT to_state FROM state_changes
		WHERE office_id = ? AND at_ts < ?
		ORDER BY at_ts DESC, id DESC LIMIT 1`, office.ID, at).Scan(&prev)
	switch {
	case err == nil:
		fromState = domain.State(prev)
	case errors.Is(err, sql.ErrNoRows):
		fromState = domain.StateUnknown
	default:
		return false, fmt.Errorf("store: derive from_state: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO state_changes
			(office_id, at_ts, from_state, to_state, sample_gateway, sample_mx, sample_ipsec)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		office.ID, at, string(fromState), string(newState), boolToInt(sample.Gateway), boolToInt(sample.MX), boolToInt(sample.IPsec))
	if err != nil {
		return false, fmt.Errorf("store: insert state change: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit state change: %w", err)
	}
	return n > 0, nil
}

// TickInput is one entry in a tick batch (spec §4.6).
type TickInput struct {
	OfficeName string
	Sample     domain.Sample
	TS         int64
}

// IngestTickBatch persists one raw sample per entry, failing atomically
// with ErrUnknownOffice on the first unknown name (spec §4.6; no
// deduplication).
func (s *Store) IngestTickBatch(ctx context.Context, entries []TickInput) (count int, err error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin tick batch: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, len(entries))
	for i, e := range entries {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM offices WHERE name = ?`, e.OfficeName).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %q", ErrUnknownOffice, e.OfficeName)
		}
		if err != nil {
			return 0, fmt.Errorf("store: tick batch lookup %q: %w", e.OfficeName, err)
		}
		ids[i] = id
	}

	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO samples (office_id, ts, gateway, mx, ipsec)
			VALUES (?, ?, ?, ?, ?)`,
			ids[i], e.TS, boolToInt(e.Sample.Gateway), boolToInt(e.Sample.MX), boolToInt(e.Sample.IPsec)); err != nil {
			return 0, fmt.Errorf("store: insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit tick batch: %w", err)
	}
	return len(entries), nil
}

// StateChangesUpTo returns every state change for officeID with
// at_ts <= tEnd, ordered by (at_ts, id) ascending — the order invariant
// 2 of spec §8 requires, with the id tie-break spec §4.7 names for the
// pathological same-timestamp case.
func (s *Store) StateChangesUpTo(ctx context.Context, officeID int64, tEnd int64) ([]domain.StateChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, office_id, at_ts, from_state, to_state, sample_gateway, sample_mx, sample_ipsec
		FROM state_changes
		WHERE office_id = ? AND at_ts <= ?
		ORDER BY at_ts ASC, id ASC`, officeID, tEnd)
	if err != nil {
		return nil, fmt.Errorf("store: state changes up to: %w", err)
	}
	defer rows.Close()

	var out []domain.StateChange
	for rows.Next() {
		var sc domain.StateChange
		var from, to string
		var gw, mx, ip int
		if err := rows.Scan(&sc.ID, &sc.OfficeID, &sc.At, &from, &to, &gw, &mx, &ip); err != nil {
			return nil, err
		}
		sc.FromState = domain.State(from)
		sc.ToState = domain.State(to)
		sc.Sample = domain.Sample{Gateway: gw != 0, MX: mx != 0, IPsec: ip != 0}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// LatestSampleUpTo returns the most recent raw sample at or before
// tEnd, if any.
func (s *Store) LatestSampleUpTo(ctx context.Context, officeID int64, tEnd int64) (domain.Sample, int64, bool, error) {
	var gw, mx, ip int
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts, gateway, mx, ipsec FROM samples
		WHERE office_id = ? AND ts <= ?
		ORDER BY ts DESC, id DESC LIMIT 1`, officeID, tEnd).Scan(&ts, &gw, &mx, &ip)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sample{}, 0, false, nil
	}
	if err != nil {
		return domain.Sample{}, 0, false, fmt.Errorf("store: latest sample: %w", err)
	}
	return domain.Sample{Gateway: gw != 0, MX: mx != 0, IPsec: ip != 0}, ts, true, nil
}

// Ping verifies the store is reachable, for the /healthz surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
