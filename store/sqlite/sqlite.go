/*
Package sqlite provides a SQLite-backed implementation of the payroll storage interfaces.

PURPOSE:
  Implements every persistence interface the payroll engine consumes using
  SQLite. In production, the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

INTERFACES IMPLEMENTED:
  payroll.RecordStore:       Payroll records with optimistic version checks
  payroll.RateTxStore:       Tax brackets and social-security rates
  payroll.EmployeeDirectory: Employee country lookup
  payroll.AuditLog:          Record history

KEY TABLES:
  payroll_records:        One row per employee per period
  tax_brackets:           Bracket rows grouped by (country, effective_date)
  social_security_rates:  One row per (country, effective_date)
  employees:              Directory entries with country
  audit_log:              Append-only record history
  settings:               Persisted payroll settings (JSON)

MONEY:
  Amounts are stored as TEXT decimal strings and scanned straight back into
  decimal.Decimal. No floating point ever touches a stored amount.

OPTIMISTIC CONCURRENCY:
  UPDATE ... WHERE id = ? AND version = ?. Zero affected rows means either
  the row is gone (ErrRecordNotFound) or someone else wrote first
  (*ConcurrencyError carrying the stored version).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so that
  ":memory:" databases are shared between calls and WithTx cannot
  deadlock against itself.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  rates := payroll.NewRateConfigStore(store)
  engine := payroll.NewEngine(store, rates, store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (directory)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		country TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Tax brackets, grouped by country + effective date
	CREATE TABLE IF NOT EXISTS tax_brackets (
		id TEXT PRIMARY KEY,
		country TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT,
		rate TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_brackets_country_date
		ON tax_brackets(country, effective_date);

	-- Social security rates: one per country + effective date
	CREATE TABLE IF NOT EXISTS social_security_rates (
		id TEXT PRIMARY KEY,
		country TEXT NOT NULL,
		employee_rate TEXT NOT NULL,
		employer_rate TEXT NOT NULL,
		max_base TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ss_country_date
		ON social_security_rates(country, effective_date);

	-- Payroll records
	CREATE TABLE IF NOT EXISTS payroll_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		country TEXT NOT NULL,
		period TEXT NOT NULL,
		currency TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		bonuses TEXT NOT NULL,
		overtime_pay TEXT NOT NULL,
		allowances TEXT NOT NULL,
		leave_deductions TEXT NOT NULL,
		other_deductions TEXT NOT NULL,
		gross_salary TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		social_security TEXT NOT NULL,
		employer_contribution TEXT NOT NULL,
		net_salary TEXT NOT NULL,
		insufficient_funds INTEGER NOT NULL DEFAULT 0,
		tax_policy TEXT,
		tax_table_date TEXT,
		social_security_rate_id TEXT,
		calculated_at TEXT,
		status TEXT NOT NULL,
		payment_date TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One record per employee per period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_employee_period
		ON payroll_records(employee_id, period);

	CREATE INDEX IF NOT EXISTS idx_records_status
		ON payroll_records(status, period);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT,
		payload_json TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record
		ON audit_log(record_id, timestamp);

	-- Settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (payroll.RecordStore interface)
// =============================================================================

const recordColumns = `id, employee_id, country, period, currency,
	base_salary, bonuses, overtime_pay, allowances, leave_deductions, other_deductions,
	gross_salary, tax_amount, social_security, employer_contribution, net_salary,
	insufficient_funds, tax_policy, tax_table_date, social_security_rate_id, calculated_at,
	status, payment_date, version, created_at, updated_at`

func recordArgs(r payroll.PayrollRecord) []any {
	return []any{
		string(r.ID), string(r.EmployeeID), r.Country, r.Period.String(), r.Currency,
		r.BaseSalary, r.Bonuses, r.OvertimePay, r.Allowances, r.LeaveDeductions, r.OtherDeductions,
		r.GrossSalary, r.TaxAmount, r.SocialSecurity, r.EmployerContribution, r.NetSalary,
		r.InsufficientFundsWarning, string(r.TaxPolicy), nullDate(r.TaxTableDate), string(r.SocialSecurityRateID), nullTime(r.CalculatedAt),
		string(r.Status), nullTime(r.PaymentDate), r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	}
}

// InsertRecord stores a new payroll record.
func (s *Store) InsertRecord(ctx context.Context, r payroll.PayrollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO payroll_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, recordArgs(r)...)
	if isUniqueConstraintError(err) {
		return payroll.ErrDuplicate
	}
	return wrap("insert payroll record", err)
}

// UpdateRecord overwrites a record if its stored version matches.
func (s *Store) UpdateRecord(ctx context.Context, r payroll.PayrollRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Version = expectedVersion + 1
	query := `
		UPDATE payroll_records SET
			currency = ?, base_salary = ?, bonuses = ?, overtime_pay = ?, allowances = ?,
			leave_deductions = ?, other_deductions = ?, gross_salary = ?, tax_amount = ?,
			social_security = ?, employer_contribution = ?, net_salary = ?, insufficient_funds = ?,
			tax_policy = ?, tax_table_date = ?, social_security_rate_id = ?, calculated_at = ?,
			status = ?, payment_date = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		r.Currency, r.BaseSalary, r.Bonuses, r.OvertimePay, r.Allowances,
		r.LeaveDeductions, r.OtherDeductions, r.GrossSalary, r.TaxAmount,
		r.SocialSecurity, r.EmployerContribution, r.NetSalary, r.InsufficientFundsWarning,
		string(r.TaxPolicy), nullDate(r.TaxTableDate), string(r.SocialSecurityRateID), nullTime(r.CalculatedAt),
		string(r.Status), nullTime(r.PaymentDate), r.Version, formatTime(r.UpdatedAt),
		string(r.ID), expectedVersion,
	)
	if err != nil {
		return wrap("update payroll record", err)
	}
	return s.checkVersioned(ctx, s.db, res, "payroll record", "payroll_records", string(r.ID), expectedVersion, payroll.ErrRecordNotFound)
}

// DeleteRecord removes a record if its stored version matches.
func (s *Store) DeleteRecord(ctx context.Context, id payroll.RecordID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM payroll_records WHERE id = ? AND version = ?", string(id), expectedVersion)
	if err != nil {
		return wrap("delete payroll record", err)
	}
	return s.checkVersioned(ctx, s.db, res, "payroll record", "payroll_records", string(id), expectedVersion, payroll.ErrRecordNotFound)
}

// checkVersioned turns "0 rows affected" into not-found or a version conflict.
func (s *Store) checkVersioned(ctx context.Context, q querier, res sql.Result, entity, table, id string, expected int64, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var actual int64
	err = q.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return wrap("read version", err)
	}
	return &payroll.ConcurrencyError{Entity: entity, ID: id, Expected: expected, Actual: actual}
}

// GetRecord retrieves a payroll record by ID.
func (s *Store) GetRecord(ctx context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM payroll_records WHERE id = ?", string(id))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.PayrollRecord{}, payroll.ErrRecordNotFound
	}
	if err != nil {
		return payroll.PayrollRecord{}, wrap("get payroll record", err)
	}
	return r, nil
}

// SelectRecords returns records matching filter, ordered by period then employee.
func (s *Store) SelectRecords(ctx context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(filter.EmployeeID))
	}
	if filter.Period != nil {
		where = append(where, "period = ?")
		args = append(args, filter.Period.String())
	}
	if len(filter.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Status))+")")
		for _, st := range filter.Status {
			args = append(args, string(st))
		}
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, string(id))
		}
	}

	query := "SELECT " + recordColumns + " FROM payroll_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period, employee_id, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("select payroll records", err)
	}
	defer rows.Close()

	records := []payroll.PayrollRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrap("scan payroll record", err)
		}
		records = append(records, r)
	}
	return records, wrap("select payroll records", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (payroll.PayrollRecord, error) {
	var r payroll.PayrollRecord
	var id, employeeID, period, taxPolicy, ssRateID, status string
	var taxTableDate, calculatedAt, paymentDate sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&id, &employeeID, &r.Country, &period, &r.Currency,
		&r.BaseSalary, &r.Bonuses, &r.OvertimePay, &r.Allowances, &r.LeaveDeductions, &r.OtherDeductions,
		&r.GrossSalary, &r.TaxAmount, &r.SocialSecurity, &r.EmployerContribution, &r.NetSalary,
		&r.InsufficientFundsWarning, &taxPolicy, &taxTableDate, &ssRateID, &calculatedAt,
		&status, &paymentDate, &r.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}

	r.ID = payroll.RecordID(id)
	r.EmployeeID = payroll.EmployeeID(employeeID)
	if r.Period, err = payroll.ParsePeriod(period); err != nil {
		return r, err
	}
	r.TaxPolicy = payroll.TaxPolicy(taxPolicy)
	r.SocialSecurityRateID = payroll.RateID(ssRateID)
	r.Status = payroll.RecordStatus(status)
	var dec rowDecoder
	r.TaxTableDate = dec.nullDate("tax_table_date", taxTableDate)
	r.CalculatedAt = dec.nullTime("calculated_at", calculatedAt)
	r.PaymentDate = dec.nullTime("payment_date", paymentDate)
	r.CreatedAt = dec.time("created_at", createdAt)
	r.UpdatedAt = dec.time("updated_at", updatedAt)
	return r, dec.err
}

// =============================================================================
// RATE STORE (payroll.RateTxStore interface)
// =============================================================================

const bracketColumns = "id, country, min_amount, max_amount, rate, effective_date, version, created_at, updated_at"

// SaveBracket inserts (expectedVersion 0) or updates a bracket.
func (s *Store) SaveBracket(ctx context.Context, b payroll.TaxBracket, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBracket(ctx, s.db, b, expectedVersion)
}

func (s *Store) saveBracket(ctx context.Context, q querier, b payroll.TaxBracket, expectedVersion int64) error {
	var max decimal.NullDecimal
	if b.MaxAmount != nil {
		max = decimal.NewNullDecimal(*b.MaxAmount)
	}

	if expectedVersion == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO tax_brackets (`+bracketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(b.ID), b.Country, b.MinAmount, max, b.Rate,
			b.EffectiveDate.Format(payroll.DateLayout), int64(1),
			formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return s.conflictOnInsert(ctx, q, "tax bracket", "tax_brackets", string(b.ID))
		}
		return wrap("insert tax bracket", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE tax_brackets SET
			country = ?, min_amount = ?, max_amount = ?, rate = ?, effective_date = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.Country, b.MinAmount, max, b.Rate, b.EffectiveDate.Format(payroll.DateLayout),
		expectedVersion+1, formatTime(b.UpdatedAt),
		string(b.ID), expectedVersion,
	)
	if err != nil {
		return wrap("update tax bracket", err)
	}
	return s.checkVersioned(ctx, q, res, "tax bracket", "tax_brackets", string(b.ID), expectedVersion, payroll.ErrBracketNotFound)
}

// conflictOnInsert reports an insert over an existing row as a version conflict.
func (s *Store) conflictOnInsert(ctx context.Context, q querier, entity, table, id string) error {
	var actual int64
	err := q.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&actual)
	if err != nil {
		return payroll.ErrDuplicate
	}
	return &payroll.ConcurrencyError{Entity: entity, ID: id, Expected: 0, Actual: actual}
}

func (s *Store) DeleteBracket(ctx context.Context, id payroll.BracketID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteByID(ctx, s.db, "tax_brackets", string(id), payroll.ErrBracketNotFound)
}

func (s *Store) GetBracket(ctx context.Context, id payroll.BracketID) (payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBracket(ctx, s.db, id)
}

func getBracket(ctx context.Context, q querier, id payroll.BracketID) (payroll.TaxBracket, error) {
	row := q.QueryRowContext(ctx, "SELECT "+bracketColumns+" FROM tax_brackets WHERE id = ?", string(id))
	b, err := scanBracket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.TaxBracket{}, payroll.ErrBracketNotFound
	}
	if err != nil {
		return payroll.TaxBracket{}, wrap("get tax bracket", err)
	}
	return b, nil
}

func (s *Store) SelectBrackets(ctx context.Context, filter payroll.RateFilter) ([]payroll.TaxBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectBrackets(ctx, s.db, filter)
}

func selectBrackets(ctx context.Context, q querier, filter payroll.RateFilter) ([]payroll.TaxBracket, error) {
	where, args := rateWhere(filter)
	rows, err := q.QueryContext(ctx,
		"SELECT "+bracketColumns+" FROM tax_brackets"+where+" ORDER BY country, effective_date, CAST(min_amount AS REAL)",
		args...)
	if err != nil {
		return nil, wrap("select tax brackets", err)
	}
	defer rows.Close()

	brackets := []payroll.TaxBracket{}
	for rows.Next() {
		b, err := scanBracket(rows)
		if err != nil {
			return nil, wrap("scan tax bracket", err)
		}
		brackets = append(brackets, b)
	}
	return brackets, wrap("select tax brackets", rows.Err())
}

func scanBracket(sc scanner) (payroll.TaxBracket, error) {
	var b payroll.TaxBracket
	var id, effective, createdAt, updatedAt string
	var max decimal.NullDecimal

	if err := sc.Scan(&id, &b.Country, &b.MinAmount, &max, &b.Rate, &effective, &b.Version, &createdAt, &updatedAt); err != nil {
		return b, err
	}
	b.ID = payroll.BracketID(id)
	if max.Valid {
		v := max.Decimal
		b.MaxAmount = &v
	}
	var dec rowDecoder
	b.EffectiveDate = dec.date("effective_date", effective)
	b.CreatedAt = dec.time("created_at", createdAt)
	b.UpdatedAt = dec.time("updated_at", updatedAt)
	return b, dec.err
}

const rateColumns = "id, country, employee_rate, employer_rate, max_base, effective_date, version, created_at, updated_at"

func (s *Store) SaveSocialSecurityRate(ctx context.Context, r payroll.SocialSecurityRate, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRate(ctx, s.db, r, expectedVersion)
}

func (s *Store) saveRate(ctx context.Context, q querier, r payroll.SocialSecurityRate, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO social_security_rates (`+rateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.ID), r.Country, r.EmployeeRate, r.EmployerRate, r.MaxBase,
			r.EffectiveDate.Format(payroll.DateLayout), int64(1),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return s.conflictOnInsert(ctx, q, "social security rate", "social_security_rates", string(r.ID))
		}
		return wrap("insert social security rate", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE social_security_rates SET
			country = ?, employee_rate = ?, employer_rate = ?, max_base = ?, effective_date = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.Country, r.EmployeeRate, r.EmployerRate, r.MaxBase, r.EffectiveDate.Format(payroll.DateLayout),
		expectedVersion+1, formatTime(r.UpdatedAt),
		string(r.ID), expectedVersion,
	)
	if isUniqueConstraintError(err) {
		return payroll.ErrDuplicate
	}
	if err != nil {
		return wrap("update social security rate", err)
	}
	return s.checkVersioned(ctx, q, res, "social security rate", "social_security_rates", string(r.ID), expectedVersion, payroll.ErrRateNotFound)
}

func (s *Store) DeleteSocialSecurityRate(ctx context.Context, id payroll.RateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteByID(ctx, s.db, "social_security_rates", string(id), payroll.ErrRateNotFound)
}

func (s *Store) GetSocialSecurityRate(ctx context.Context, id payroll.RateID) (payroll.SocialSecurityRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRate(ctx, s.db, id)
}

func getRate(ctx context.Context, q querier, id payroll.RateID) (payroll.SocialSecurityRate, error) {
	row := q.QueryRowContext(ctx, "SELECT "+rateColumns+" FROM social_security_rates WHERE id = ?", string(id))
	r, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.SocialSecurityRate{}, payroll.ErrRateNotFound
	}
	if err != nil {
		return payroll.SocialSecurityRate{}, wrap("get social security rate", err)
	}
	return r, nil
}

func (s *Store) SelectSocialSecurityRates(ctx context.Context, filter payroll.RateFilter) ([]payroll.SocialSecurityRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectRates(ctx, s.db, filter)
}

func selectRates(ctx context.Context, q querier, filter payroll.RateFilter) ([]payroll.SocialSecurityRate, error) {
	where, args := rateWhere(filter)
	rows, err := q.QueryContext(ctx,
		"SELECT "+rateColumns+" FROM social_security_rates"+where+" ORDER BY country, effective_date",
		args...)
	if err != nil {
		return nil, wrap("select social security rates", err)
	}
	defer rows.Close()

	rates := []payroll.SocialSecurityRate{}
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, wrap("scan social security rate", err)
		}
		rates = append(rates, r)
	}
	return rates, wrap("select social security rates", rows.Err())
}

func scanRate(sc scanner) (payroll.SocialSecurityRate, error) {
	var r payroll.SocialSecurityRate
	var id, effective, createdAt, updatedAt string
	if err := sc.Scan(&id, &r.Country, &r.EmployeeRate, &r.EmployerRate, &r.MaxBase, &effective, &r.Version, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	r.ID = payroll.RateID(id)
	var dec rowDecoder
	r.EffectiveDate = dec.date("effective_date", effective)
	r.CreatedAt = dec.time("created_at", createdAt)
	r.UpdatedAt = dec.time("updated_at", updatedAt)
	return r, dec.err
}

// rateWhere renders a RateFilter. Effective dates compare correctly as
// YYYY-MM-DD text.
func rateWhere(filter payroll.RateFilter) (string, []any) {
	var where []string
	var args []any
	if filter.Country != "" {
		where = append(where, "country = ?")
		args = append(args, filter.Country)
	}
	if filter.EffectiveDate != nil {
		where = append(where, "effective_date = ?")
		args = append(args, filter.EffectiveDate.Format(payroll.DateLayout))
	}
	if filter.OnOrBefore != nil {
		where = append(where, "effective_date <= ?")
		args = append(args, filter.OnOrBefore.Format(payroll.DateLayout))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func deleteByID(ctx context.Context, q querier, table, id string, notFound error) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return wrap("delete from "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.RateTxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payroll.RateStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return wrap("commit transaction", sqlTx.Commit())
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SaveBracket(ctx context.Context, b payroll.TaxBracket, expectedVersion int64) error {
	return ts.parent.saveBracket(ctx, ts.tx, b, expectedVersion)
}

func (ts *txStore) DeleteBracket(ctx context.Context, id payroll.BracketID) error {
	return deleteByID(ctx, ts.tx, "tax_brackets", string(id), payroll.ErrBracketNotFound)
}

func (ts *txStore) GetBracket(ctx context.Context, id payroll.BracketID) (payroll.TaxBracket, error) {
	return getBracket(ctx, ts.tx, id)
}

func (ts *txStore) SelectBrackets(ctx context.Context, filter payroll.RateFilter) ([]payroll.TaxBracket, error) {
	return selectBrackets(ctx, ts.tx, filter)
}

func (ts *txStore) SaveSocialSecurityRate(ctx context.Context, r payroll.SocialSecurityRate, expectedVersion int64) error {
	return ts.parent.saveRate(ctx, ts.tx, r, expectedVersion)
}

func (ts *txStore) DeleteSocialSecurityRate(ctx context.Context, id payroll.RateID) error {
	return deleteByID(ctx, ts.tx, "social_security_rates", string(id), payroll.ErrRateNotFound)
}

func (ts *txStore) GetSocialSecurityRate(ctx context.Context, id payroll.RateID) (payroll.SocialSecurityRate, error) {
	return getRate(ctx, ts.tx, id)
}

func (ts *txStore) SelectSocialSecurityRates(ctx context.Context, filter payroll.RateFilter) ([]payroll.SocialSecurityRate, error) {
	return selectRates(ctx, ts.tx, filter)
}

// =============================================================================
// EMPLOYEE STORE (payroll.EmployeeDirectory interface)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, country, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			country = excluded.country
	`
	_, err := s.db.ExecContext(ctx, query,
		string(emp.ID), emp.Name, nullString(emp.Email), emp.Country,
		formatTime(time.Now().UTC()),
	)
	return wrap("save employee", err)
}

// Resolve implements payroll.EmployeeDirectory.
func (s *Store) Resolve(ctx context.Context, id payroll.EmployeeID) (payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp payroll.Employee
	var empID string
	var email sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, country FROM employees WHERE id = ?", string(id),
	).Scan(&empID, &emp.Name, &email, &emp.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Employee{}, payroll.ErrEmployeeNotFound
	}
	if err != nil {
		return payroll.Employee{}, wrap("resolve employee", err)
	}
	emp.ID = payroll.EmployeeID(empID)
	emp.Email = email.String
	return emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, country FROM employees ORDER BY name, id")
	if err != nil {
		return nil, wrap("list employees", err)
	}
	defer rows.Close()

	employees := []payroll.Employee{}
	for rows.Next() {
		var emp payroll.Employee
		var id string
		var email sql.NullString
		if err := rows.Scan(&id, &emp.Name, &email, &emp.Country); err != nil {
			return nil, wrap("scan employee", err)
		}
		emp.ID = payroll.EmployeeID(id)
		emp.Email = email.String
		employees = append(employees, emp)
	}
	return employees, wrap("list employees", rows.Err())
}

// =============================================================================
// AUDIT LOG (payroll.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e payroll.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, record_id, action, from_status, to_status, payload_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.RecordID), string(e.Action),
		nullString(string(e.FromStatus)), nullString(string(e.ToStatus)),
		string(payload), formatTime(e.Timestamp),
	)
	return wrap("append audit", err)
}

func (s *Store) QueryAudit(ctx context.Context, recordID payroll.RecordID) ([]payroll.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, action, from_status, to_status, payload_json, timestamp
		FROM audit_log WHERE record_id = ? ORDER BY timestamp, rowid`, string(recordID))
	if err != nil {
		return nil, wrap("query audit", err)
	}
	defer rows.Close()

	entries := []payroll.AuditEntry{}
	for rows.Next() {
		var e payroll.AuditEntry
		var recID, action, ts string
		var from, to, payload sql.NullString
		if err := rows.Scan(&e.ID, &recID, &action, &from, &to, &payload, &ts); err != nil {
			return nil, wrap("scan audit", err)
		}
		e.RecordID = payroll.RecordID(recID)
		e.Action = payroll.AuditAction(action)
		e.FromStatus = payroll.RecordStatus(from.String)
		e.ToStatus = payroll.RecordStatus(to.String)
		var dec rowDecoder
		e.Timestamp = dec.time("timestamp", ts)
		if dec.err != nil {
			return nil, wrap("scan audit", dec.err)
		}
		if payload.Valid && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, wrap("scan audit", fmt.Errorf("column payload_json: %w", err))
			}
		}
		entries = append(entries, e)
	}
	return entries, wrap("query audit", rows.Err())
}

// =============================================================================
// SETTINGS
// =============================================================================

const settingsKey = "payroll"

// SaveSettings persists the payroll settings.
func (s *Store) SaveSettings(ctx context.Context, settings payroll.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		settingsKey, string(value), formatTime(time.Now().UTC()),
	)
	return wrap("save settings", err)
}

// LoadSettings returns the stored settings and whether any were stored.
func (s *Store) LoadSettings(ctx context.Context) (payroll.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value_json FROM settings WHERE key = ?", settingsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Settings{}, false, nil
	}
	if err != nil {
		return payroll.Settings{}, false, wrap("load settings", err)
	}
	var settings payroll.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return payroll.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return settings, true, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "payroll_records", "tax_brackets", "social_security_rates", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrap("reset "+table, err)
		}
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &payroll.PersistenceError{Op: op, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}


func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}


func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(payroll.DateLayout)
}

// rowDecoder parses text columns of one row and keeps the first failure.
type rowDecoder struct {
	err error
}

func (d *rowDecoder) parse(col, layout, s string) time.Time {
	if d.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		d.err = fmt.Errorf("column %s: %w", col, err)
	}
	return t
}

func (d *rowDecoder) time(col, s string) time.Time {
	return d.parse(col, time.RFC3339Nano, s)
}

func (d *rowDecoder) date(col, s string) time.Time {
	return d.parse(col, payroll.DateLayout, s)
}

func (d *rowDecoder) nullTime(col string, ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := d.time(col, ns.String)
	return &t
}

func (d *rowDecoder) nullDate(col string, ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := d.date(col, ns.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
