/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists members, packages, coach aggregates, events, and the
  idempotency-key registry. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  members:          One row per (coach, member) with window and counters
  packages:         Package records with commission rule fields
  coach_aggregates: Denormalized running totals, one row per coach
  events:           Event slots
  participants:     Ordered participant rows per event
  applied_keys:     Idempotency registry; the primary key turns a replay
                    into ErrAlreadyApplied

CONCURRENCY:
  A sync.Mutex serializes access on top of a WAL-mode database. WithTx
  hands callbacks a view bound to the *sql.Tx so every read and write of
  an operation sees the same isolated state; commit-or-rollback is
  all-or-nothing, which keeps a credit debit and its participant row
  inseparable.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fitnessplus/coach-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and matches
	// the single-writer discipline.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		coach_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		remaining_credits INTEGER NOT NULL DEFAULT 0,
		window_start TEXT,
		window_end TEXT,
		current_package_id TEXT NOT NULL DEFAULT '',
		total_packages INTEGER NOT NULL DEFAULT 0,
		next_sequence INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		PRIMARY KEY (coach_id, id)
	);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		coach_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		price TEXT NOT NULL,
		session_count INTEGER NOT NULL,
		duration_days INTEGER NOT NULL,
		rule_kind TEXT NOT NULL,
		rule_value TEXT NOT NULL,
		approval TEXT NOT NULL,
		payment TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		approved_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_packages_coach
		ON packages(coach_id);
	CREATE INDEX IF NOT EXISTS idx_packages_coach_member
		ON packages(coach_id, member_id);

	CREATE TABLE IF NOT EXISTS coach_aggregates (
		coach_id TEXT PRIMARY KEY,
		pending_commission_total TEXT NOT NULL,
		active_member_count INTEGER NOT NULL DEFAULT 0,
		total_sessions_delivered INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		coach_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		quota INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_coach_date
		ON events(coach_id, date);

	CREATE TABLE IF NOT EXISTS participants (
		event_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		member_id TEXT NOT NULL DEFAULT '',
		guest_name TEXT NOT NULL DEFAULT '',
		guest_contact TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		added_at TEXT NOT NULL,
		PRIMARY KEY (event_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_event
		ON participants(event_id, position);

	CREATE TABLE IF NOT EXISTS applied_keys (
		key TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by *sql.DB and *sql.Tx, so every query helper works
// both standalone and inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx runs fn within a database transaction. Rolled back on error,
// committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the Store view handed to WithTx callbacks. All reads and
// writes go through the *sql.Tx, never back through the parent Store.
type txStore struct {
	db *sql.Tx
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) GetMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getMember(ctx, s.db, coachID, memberID)
}

func (ts *txStore) GetMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	return getMember(ctx, ts.db, coachID, memberID)
}

func getMember(ctx context.Context, db dbtx, coachID ledger.CoachID, memberID ledger.MemberID) (*ledger.Member, error) {
	row := db.QueryRowContext(ctx, `
		SELECT coach_id, id, name, remaining_credits, window_start, window_end,
		       current_package_id, total_packages, next_sequence, created_at
		FROM members WHERE coach_id = ? AND id = ?`,
		coachID, memberID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrMemberNotFound
	}
	return m, err
}

func scanMember(row rowScanner) (*ledger.Member, error) {
	var (
		m                      ledger.Member
		windowStart, windowEnd sql.NullString
		createdAt              string
	)
	err := row.Scan(&m.CoachID, &m.ID, &m.Name, &m.RemainingCredits,
		&windowStart, &windowEnd, &m.CurrentPackageID,
		&m.TotalPackages, &m.NextSequence, &createdAt)
	if err != nil {
		return nil, err
	}
	m.WindowStart = parseNullTime(windowStart)
	m.WindowEnd = parseNullTime(windowEnd)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func (s *Store) PutMember(ctx context.Context, m *ledger.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putMember(ctx, s.db, m)
}

func (ts *txStore) PutMember(ctx context.Context, m *ledger.Member) error {
	return putMember(ctx, ts.db, m)
}

func putMember(ctx context.Context, db dbtx, m *ledger.Member) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO members (coach_id, id, name, remaining_credits, window_start,
			window_end, current_package_id, total_packages, next_sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coach_id, id) DO UPDATE SET
			name = excluded.name,
			remaining_credits = excluded.remaining_credits,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			current_package_id = excluded.current_package_id,
			total_packages = excluded.total_packages,
			next_sequence = excluded.next_sequence`,
		m.CoachID, m.ID, m.Name, m.RemainingCredits,
		formatNullTime(m.WindowStart), formatNullTime(m.WindowEnd),
		m.CurrentPackageID, m.TotalPackages, m.NextSequence,
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteMember(ctx, s.db, coachID, memberID)
}

func (ts *txStore) DeleteMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) error {
	return deleteMember(ctx, ts.db, coachID, memberID)
}

func deleteMember(ctx context.Context, db dbtx, coachID ledger.CoachID, memberID ledger.MemberID) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM members WHERE coach_id = ? AND id = ?", coachID, memberID)
	return err
}

func (s *Store) ListMembers(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listMembers(ctx, s.db, coachID)
}

func (ts *txStore) ListMembers(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Member, error) {
	return listMembers(ctx, ts.db, coachID)
}

func listMembers(ctx context.Context, db dbtx, coachID ledger.CoachID) ([]*ledger.Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT coach_id, id, name, remaining_credits, window_start, window_end,
		       current_package_id, total_packages, next_sequence, created_at
		FROM members WHERE coach_id = ? ORDER BY id`,
		coachID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// PACKAGES
// =============================================================================

const packageColumns = `id, coach_id, member_id, price, session_count, duration_days,
	rule_kind, rule_value, approval, payment, sequence, start_date, created_at,
	approved_at, approved_by`

func (s *Store) GetPackage(ctx context.Context, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getPackage(ctx, s.db, coachID, packageID)
}

func (ts *txStore) GetPackage(ctx context.Context, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	return getPackage(ctx, ts.db, coachID, packageID)
}

func getPackage(ctx context.Context, db dbtx, coachID ledger.CoachID, packageID ledger.PackageID) (*ledger.Package, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+packageColumns+" FROM packages WHERE coach_id = ? AND id = ?",
		coachID, packageID)
	p, err := scanPackage(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrPackageNotFound
	}
	return p, err
}

func scanPackage(row rowScanner) (*ledger.Package, error) {
	var (
		p                    ledger.Package
		price, ruleValue     string
		startDate, createdAt string
		approvedAt           sql.NullString
	)
	err := row.Scan(&p.ID, &p.CoachID, &p.MemberID, &price, &p.SessionCount,
		&p.DurationDays, &p.Rule.Kind, &ruleValue, &p.Approval, &p.Payment,
		&p.Sequence, &startDate, &createdAt, &approvedAt, &p.ApprovedBy)
	if err != nil {
		return nil, err
	}
	if p.Price, err = ledger.ParseMoney(price); err != nil {
		return nil, err
	}
	ruleVal, err := ledger.ParseMoney(ruleValue)
	if err != nil {
		return nil, err
	}
	p.Rule.Value = ruleVal.Value
	p.StartDate, _ = time.Parse(time.RFC3339, startDate)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.ApprovedAt = parseNullTime(approvedAt)
	return &p, nil
}

func (s *Store) PutPackage(ctx context.Context, p *ledger.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putPackage(ctx, s.db, p)
}

func (ts *txStore) PutPackage(ctx context.Context, p *ledger.Package) error {
	return putPackage(ctx, ts.db, p)
}

func putPackage(ctx context.Context, db dbtx, p *ledger.Package) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price = excluded.price,
			session_count = excluded.session_count,
			duration_days = excluded.duration_days,
			rule_kind = excluded.rule_kind,
			rule_value = excluded.rule_value,
			approval = excluded.approval,
			payment = excluded.payment,
			start_date = excluded.start_date,
			approved_at = excluded.approved_at,
			approved_by = excluded.approved_by`,
		p.ID, p.CoachID, p.MemberID, p.Price.String(), p.SessionCount,
		p.DurationDays, p.Rule.Kind, p.Rule.Value.String(), p.Approval, p.Payment,
		p.Sequence, p.StartDate.UTC().Format(time.RFC3339),
		p.CreatedAt.UTC().Format(time.RFC3339),
		formatNullTime(p.ApprovedAt), p.ApprovedBy,
	)
	return err
}

func (s *Store) DeletePackage(ctx context.Context, coachID ledger.CoachID, packageID ledger.PackageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePackage(ctx, s.db, coachID, packageID)
}

func (ts *txStore) DeletePackage(ctx context.Context, coachID ledger.CoachID, packageID ledger.PackageID) error {
	return deletePackage(ctx, ts.db, coachID, packageID)
}

func deletePackage(ctx context.Context, db dbtx, coachID ledger.CoachID, packageID ledger.PackageID) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM packages WHERE coach_id = ? AND id = ?", coachID, packageID)
	return err
}

func (s *Store) ListPackagesByMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) ([]*ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryPackages(ctx, s.db,
		"SELECT "+packageColumns+" FROM packages WHERE coach_id = ? AND member_id = ? ORDER BY sequence",
		coachID, memberID)
}

func (ts *txStore) ListPackagesByMember(ctx context.Context, coachID ledger.CoachID, memberID ledger.MemberID) ([]*ledger.Package, error) {
	return queryPackages(ctx, ts.db,
		"SELECT "+packageColumns+" FROM packages WHERE coach_id = ? AND member_id = ? ORDER BY sequence",
		coachID, memberID)
}

func (s *Store) ListPackagesByCoach(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryPackages(ctx, s.db,
		"SELECT "+packageColumns+" FROM packages WHERE coach_id = ? ORDER BY member_id, sequence",
		coachID)
}

func (ts *txStore) ListPackagesByCoach(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Package, error) {
	return queryPackages(ctx, ts.db,
		"SELECT "+packageColumns+" FROM packages WHERE coach_id = ? ORDER BY member_id, sequence",
		coachID)
}

func queryPackages(ctx context.Context, db dbtx, query string, args ...any) ([]*ledger.Package, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (s *Store) GetAggregate(ctx context.Context, coachID ledger.CoachID) (*ledger.CoachAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getAggregate(ctx, s.db, coachID)
}

func (ts *txStore) GetAggregate(ctx context.Context, coachID ledger.CoachID) (*ledger.CoachAggregate, error) {
	return getAggregate(ctx, ts.db, coachID)
}

func getAggregate(ctx context.Context, db dbtx, coachID ledger.CoachID) (*ledger.CoachAggregate, error) {
	var (
		a     ledger.CoachAggregate
		total string
	)
	err := db.QueryRowContext(ctx, `
		SELECT coach_id, pending_commission_total, active_member_count, total_sessions_delivered
		FROM coach_aggregates WHERE coach_id = ?`,
		coachID,
	).Scan(&a.CoachID, &total, &a.ActiveMemberCount, &a.TotalSessionsDelivered)
	if err == sql.ErrNoRows {
		// Absent aggregate reads as zero.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.PendingCommissionTotal, err = ledger.ParseMoney(total); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListCoaches returns every coach with a stored aggregate, sorted by ID.
func (s *Store) ListCoaches(ctx context.Context) ([]ledger.CoachID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT coach_id FROM coach_aggregates ORDER BY coach_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CoachID
	for rows.Next() {
		var id ledger.CoachID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) PutAggregate(ctx context.Context, a *ledger.CoachAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putAggregate(ctx, s.db, a)
}

func (ts *txStore) PutAggregate(ctx context.Context, a *ledger.CoachAggregate) error {
	return putAggregate(ctx, ts.db, a)
}

func putAggregate(ctx context.Context, db dbtx, a *ledger.CoachAggregate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO coach_aggregates (coach_id, pending_commission_total,
			active_member_count, total_sessions_delivered)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(coach_id) DO UPDATE SET
			pending_commission_total = excluded.pending_commission_total,
			active_member_count = excluded.active_member_count,
			total_sessions_delivered = excluded.total_sessions_delivered`,
		a.CoachID, a.PendingCommissionTotal.String(),
		a.ActiveMemberCount, a.TotalSessionsDelivered,
	)
	return err
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Store) GetEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEvent(ctx, s.db, coachID, eventID)
}

func (ts *txStore) GetEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	return getEvent(ctx, ts.db, coachID, eventID)
}

func getEvent(ctx context.Context, db dbtx, coachID ledger.CoachID, eventID ledger.EventID) (*ledger.Event, error) {
	var (
		e               ledger.Event
		date, createdAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, coach_id, kind, date, start_time, end_time, quota, created_at
		FROM events WHERE coach_id = ? AND id = ?`,
		coachID, eventID,
	).Scan(&e.ID, &e.CoachID, &e.Kind, &date, &e.StartTime, &e.EndTime, &e.Quota, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Date, _ = time.Parse(time.RFC3339, date)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	e.Participants, err = loadParticipants(ctx, db, e.ID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func loadParticipants(ctx context.Context, db dbtx, eventID ledger.EventID) ([]ledger.Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, member_id, guest_name, guest_contact, added_at
		FROM participants WHERE event_id = ? ORDER BY position`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Participant
	for rows.Next() {
		var (
			p       ledger.Participant
			addedAt string
		)
		if err := rows.Scan(&p.ID, &p.Kind, &p.MemberID, &p.GuestName, &p.GuestContact, &addedAt); err != nil {
			return nil, err
		}
		p.AddedAt, _ = time.Parse(time.RFC3339, addedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutEvent(ctx context.Context, e *ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putEvent(ctx, s.db, e)
}

func (ts *txStore) PutEvent(ctx context.Context, e *ledger.Event) error {
	return putEvent(ctx, ts.db, e)
}

// putEvent rewrites the participant rows wholesale. Participant lists are
// small (bounded by quota), so replace-on-write beats row diffing.
func putEvent(ctx context.Context, db dbtx, e *ledger.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, coach_id, kind, date, start_time, end_time, quota, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			date = excluded.date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			quota = excluded.quota`,
		e.ID, e.CoachID, e.Kind, e.Date.UTC().Format(time.RFC3339),
		e.StartTime, e.EndTime, e.Quota, e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM participants WHERE event_id = ?", e.ID); err != nil {
		return err
	}
	for i, p := range e.Participants {
		_, err := db.ExecContext(ctx, `
			INSERT INTO participants (event_id, id, kind, member_id, guest_name, guest_contact, position, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, p.ID, p.Kind, p.MemberID, p.GuestName, p.GuestContact, i,
			p.AddedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEvent(ctx, s.db, coachID, eventID)
}

func (ts *txStore) DeleteEvent(ctx context.Context, coachID ledger.CoachID, eventID ledger.EventID) error {
	return deleteEvent(ctx, ts.db, coachID, eventID)
}

func deleteEvent(ctx context.Context, db dbtx, coachID ledger.CoachID, eventID ledger.EventID) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM events WHERE coach_id = ? AND id = ?", coachID, eventID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, "DELETE FROM participants WHERE event_id = ?", eventID)
	return err
}

func (s *Store) ListEvents(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listEvents(ctx, s.db, coachID)
}

func (ts *txStore) ListEvents(ctx context.Context, coachID ledger.CoachID) ([]*ledger.Event, error) {
	return listEvents(ctx, ts.db, coachID)
}

func listEvents(ctx context.Context, db dbtx, coachID ledger.CoachID) ([]*ledger.Event, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id FROM events WHERE coach_id = ? ORDER BY date, id", coachID)
	if err != nil {
		return nil, err
	}
	var ids []ledger.EventID
	for rows.Next() {
		var id ledger.EventID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := []*ledger.Event{}
	for _, id := range ids {
		e, err := getEvent(ctx, db, coachID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// IDEMPOTENCY REGISTRY
// =============================================================================

func (s *Store) Applied(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applied(ctx, s.db, key)
}

func (ts *txStore) Applied(ctx context.Context, key string) (bool, error) {
	return applied(ctx, ts.db, key)
}

func applied(ctx context.Context, db dbtx, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM applied_keys WHERE key = ?", key).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkApplied(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markApplied(ctx, s.db, key)
}

func (ts *txStore) MarkApplied(ctx context.Context, key string) error {
	return markApplied(ctx, ts.db, key)
}

func markApplied(ctx context.Context, db dbtx, key string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO applied_keys (key, created_at) VALUES (?, ?)",
		key, time.Now().UTC().Format(time.RFC3339))
	if err != nil && isUniqueConstraintError(err) {
		return ledger.ErrAlreadyApplied
	}
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"participants", "events", "packages", "members", "coach_aggregates", "applied_keys"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
