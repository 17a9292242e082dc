/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists accounts and the six request kinds (one table per kind).
  The same SQL shape runs on PostgreSQL; see store/postgres.

KEY TABLES:
  accounts:             Balance holders, balance in integer cents
  internal_transfers,
  external_transfers,
  wire_transfers,
  deposits,
  withdrawals,
  balance_adjustments:  Shared envelope columns + kind columns
                        (store/sqlschema)
  request_claims:       Leased per-request claims held during a decision

ATOMIC PRIMITIVES:
  ApplyDelta:  UPDATE accounts SET balance_cents = balance_cents + ?
               WHERE id = ? AND status = 'active' AND <range bound>
               [AND balance_cents >= -delta] RETURNING balance_cents
               The range bound is written so the comparison itself cannot
               overflow: balance <= max-delta, or balance >= min-delta.
  Transition:  UPDATE <kind table> SET status = ? ... WHERE id = ? AND status = ?

  No row means refusal; a follow-up read classifies it (not found,
  frozen, closed, insufficient funds, status conflict).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single connection: SQLite
  serializes writers anyway, and ":memory:" databases are per-connection.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/funds.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, store, notifier, logger)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/funds-engine/ledger"
	"github.com/warp/funds-engine/store/sqlschema"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const envelopeDDL = `	id TEXT PRIMARY KEY,
	requested_by TEXT NOT NULL,
	amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
	fee_cents INTEGER NOT NULL DEFAULT 0 CHECK (fee_cents >= 0),
	currency TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'rejected', 'refunded')),
	description TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT '',
	processed_by TEXT NOT NULL DEFAULT '',
	processed_at TEXT,
	reversal_of TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL`

const envelopeColumns = `id, requested_by, amount_cents, fee_cents, currency, status, description,
	notes, rejection_reason, processed_by, processed_at, reversal_of, created_at, updated_at`

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance_cents INTEGER NOT NULL,
		opening_balance_cents INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'frozen', 'closed')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

	CREATE TABLE IF NOT EXISTS request_claims (
		request_id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`
	for _, t := range sqlschema.Tables {
		schema += t.DDL(envelopeDDL, "TEXT", "INTEGER")
	}

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data (dev only, used by demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range sqlschema.Tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t.Name); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t.Name, err)
		}
	}
	for _, name := range []string{"request_claims", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+name); err != nil {
			return fmt.Errorf("failed to reset %s: %w", name, err)
		}
	}
	return nil
}

// =============================================================================
// ACCOUNTS (ledger.AccountStore)
// =============================================================================

const accountColumns = `id, owner_id, kind, currency, balance_cents, opening_balance_cents, status, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	balance, err := acct.Balance.CheckedCents("balance")
	if err != nil {
		return err
	}
	opening, err := acct.OpeningBalance.CheckedCents("opening_balance")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(acct.ID), string(acct.OwnerID), string(acct.Kind), acct.Currency,
		balance, opening, string(acct.Status),
		formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(ctx, id)
}

func (s *Store) getAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, string(id))
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, owner *ledger.UserID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if owner != nil {
		query += ` WHERE owner_id = ?`
		args = append(args, string(*owner))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, id ledger.AccountID) (ledger.Amount, error) {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return ledger.Amount{}, err
	}
	return acct.Balance, nil
}

func (s *Store) ApplyDelta(ctx context.Context, id ledger.AccountID, delta ledger.Amount, opts ledger.DeltaOptions) (ledger.Amount, error) {
	d, err := delta.CheckedCents("amount")
	if err != nil {
		return ledger.Amount{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`
	args := []any{d, formatTime(time.Now()), string(id)}
	if !opts.Compensating {
		query += ` AND status = 'active'`
	}
	if d >= 0 {
		query += ` AND balance_cents <= ?`
		args = append(args, math.MaxInt64-d)
	} else {
		query += ` AND balance_cents >= ?`
		args = append(args, -math.MaxInt64-d)
	}
	if opts.RequireSufficientFunds {
		query += ` AND balance_cents >= ?`
		args = append(args, -d)
	}
	query += ` RETURNING balance_cents`

	var cents int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Amount{}, s.refusal(ctx, id, delta)
	}
	if err != nil {
		return ledger.Amount{}, fmt.Errorf("failed to apply delta: %w", err)
	}
	return ledger.NewAmountFromCents(cents), nil
}

// refusal explains why a conditional balance update matched no row.
func (s *Store) refusal(ctx context.Context, id ledger.AccountID, delta ledger.Amount) error {
	acct, err := s.getAccount(ctx, id)
	if err != nil {
		return err
	}
	switch acct.Status {
	case ledger.AccountFrozen:
		return &ledger.AccountFrozenError{AccountID: id}
	case ledger.AccountClosed:
		return &ledger.AccountClosedError{AccountID: id}
	}
	if next := acct.Balance.Add(delta); !next.InRange() {
		_, err := next.CheckedCents("amount")
		return err
	}
	return &ledger.InsufficientFundsError{AccountID: id, Available: acct.Balance, Required: delta.Neg()}
}

func (s *Store) SetAccountStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	return s.getAccount(ctx, id)
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*ledger.Account, error) {
	var (
		a                    ledger.Account
		balance, opening     int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.Currency, &balance, &opening,
		&a.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Balance = ledger.NewAmountFromCents(balance)
	a.OpeningBalance = ledger.NewAmountFromCents(opening)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// =============================================================================
// REQUESTS (ledger.RequestRepository)
// =============================================================================

func (s *Store) Create(ctx context.Context, req *ledger.Request) error {
	t, ok := sqlschema.ForKind(req.Kind)
	if !ok {
		return &ledger.ValidationError{Field: "kind", Message: "unknown request kind " + string(req.Kind)}
	}

	amount, err := req.Amount.CheckedCents("amount")
	if err != nil {
		return err
	}
	fee, err := req.Fee.CheckedCents("fee")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Ids are unique across all six tables.
	if _, _, err := s.locate(ctx, req.ID); err == nil {
		return ledger.ErrDuplicate
	} else if !ledger.IsNotFound(err) {
		return err
	}

	var processedAt sql.NullString
	if req.ProcessedAt != nil {
		processedAt = nullString(formatTime(*req.ProcessedAt))
	}
	args := []any{
		string(req.ID), string(req.RequestedBy), amount, fee, req.Currency,
		string(req.Status), req.Description, req.Notes, req.RejectionReason, string(req.ProcessedBy),
		processedAt, string(req.ReversalOf), formatTime(req.CreatedAt), formatTime(req.UpdatedAt),
	}
	args = append(args, t.Values(req)...)

	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (%s)`,
		t.Name, envelopeColumns, t.ColumnList(), placeholders(len(args)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("failed to insert %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, req, err := s.locate(ctx, id)
	return req, err
}

// locate finds which table holds id.
func (s *Store) locate(ctx context.Context, id ledger.RequestID) (sqlschema.Table, *ledger.Request, error) {
	for _, t := range sqlschema.Tables {
		query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE id = ?`, envelopeColumns, t.ColumnList(), t.Name)
		req, err := scanRequest(s.db.QueryRowContext(ctx, query, string(id)), t)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return t, nil, err
		}
		return t, req, nil
	}
	return sqlschema.Table{}, nil, &ledger.NotFoundError{Entity: "request", ID: string(id)}
}

func (s *Store) ListPending(ctx context.Context, kind *ledger.Kind) ([]ledger.Request, error) {
	filter := ledger.RequestFilter{Statuses: []ledger.Status{ledger.StatusPending}}
	if kind != nil {
		filter.Kinds = []ledger.Kind{*kind}
	}
	return s.List(ctx, filter)
}

func (s *Store) List(ctx context.Context, filter ledger.RequestFilter) ([]ledger.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests := []ledger.Request{}
	for _, t := range sqlschema.Select(filter.Kinds) {
		query := fmt.Sprintf(`SELECT %s, %s FROM %s`, envelopeColumns, t.ColumnList(), t.Name)
		var args []any
		if len(filter.Statuses) > 0 {
			query += ` WHERE status IN (` + placeholders(len(filter.Statuses)) + `)`
			for _, st := range filter.Statuses {
				args = append(args, string(st))
			}
		}
		query += ` ORDER BY created_at DESC, id DESC`

		found, err := s.queryRequests(ctx, t, query, args...)
		if err != nil {
			return nil, err
		}
		for i := range found {
			if filter.Matches(&found[i]) {
				requests = append(requests, found[i])
			}
		}
	}

	slices.SortFunc(requests, func(a, b ledger.Request) int { return ledger.NewestFirst(&a, &b) })
	return filter.Page(requests), nil
}

func (s *Store) queryRequests(ctx context.Context, t sqlschema.Table, query string, args ...any) ([]ledger.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.Name, err)
	}
	defer rows.Close()

	var requests []ledger.Request
	for rows.Next() {
		req, err := scanRequest(rows, t)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (s *Store) Transition(ctx context.Context, id ledger.RequestID, expected, next ledger.Status, meta ledger.TransitionMeta) (*ledger.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, _, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}

	var processedAt sql.NullString
	if meta.ProcessedAt != nil {
		processedAt = nullString(formatTime(*meta.ProcessedAt))
	}
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = ?,
			processed_by = COALESCE(?, processed_by),
			processed_at = COALESCE(?, processed_at),
			notes = COALESCE(?, notes),
			rejection_reason = COALESCE(?, rejection_reason),
			updated_at = ?
		WHERE id = ? AND status = ?`, t.Name)

	res, err := s.db.ExecContext(ctx, query,
		string(next),
		nullString(string(meta.ProcessedBy)),
		processedAt,
		nullString(meta.Notes),
		nullString(meta.RejectionReason),
		formatTime(time.Now()),
		string(id), string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition request: %w", err)
	}

	_, current, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &ledger.ConflictError{RequestID: id, Expected: expected, Actual: current.Status}
	}
	return current, nil
}

func (s *Store) Claim(ctx context.Context, id ledger.RequestID, holder string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.locate(ctx, id); err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO request_claims (request_id, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE request_claims.holder = excluded.holder OR request_claims.expires_at <= ?`,
		string(id), holder, formatTime(now.Add(lease)), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to claim request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.ConflictError{RequestID: id, Claimed: true}
	}
	return nil
}

func (s *Store) Release(ctx context.Context, id ledger.RequestID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM request_claims WHERE request_id = ? AND holder = ?`,
		string(id), holder)
	if err != nil {
		return fmt.Errorf("failed to release request claim: %w", err)
	}
	return nil
}

func scanRequest(row interface{ Scan(dest ...any) error }, t sqlschema.Table) (*ledger.Request, error) {
	var (
		r                    ledger.Request
		amount, fee          int64
		processedAt          sql.NullString
		createdAt, updatedAt string
	)
	extra, apply := t.ScanTargets()
	dest := []any{
		&r.ID, &r.RequestedBy, &amount, &fee, &r.Currency, &r.Status, &r.Description,
		&r.Notes, &r.RejectionReason, &r.ProcessedBy, &processedAt, &r.ReversalOf, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.Kind = t.Kind
	r.Amount = ledger.NewAmountFromCents(amount)
	r.Fee = ledger.NewAmountFromCents(fee)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if processedAt.Valid {
		pt := parseTime(processedAt.String)
		r.ProcessedAt = &pt
	}
	apply(&r)
	return &r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.Store = (*Store)(nil)
