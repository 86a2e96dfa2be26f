/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and everything it does not own:
  durable storage of records and rate tables, the employee directory, the
  audit log and report export.

KEY INTERFACES:
  RecordStore:       Payroll records with optimistic version checks
  RateStore:         Tax brackets and social-security rates
  RateTxStore:       RateStore plus atomic multi-write transactions
  EmployeeDirectory: Resolves an employee's country
  AuditLog:          Append-only history of record changes
  ReportExporter:    Renders final records (implemented elsewhere)

OPTIMISTIC CONCURRENCY:
  UpdateRecord and DeleteRecord take the version the caller last read.
  The store compares it with the stored version inside the same critical
  section as the write; on mismatch it returns *ConcurrencyError and
  writes nothing. A successful update stores Version = expected + 1.

ERRORS:
  Stores return the ErrXxxNotFound sentinels for missing rows, ErrDuplicate
  for unique key violations and *PersistenceError for I/O failures. The
  engine returns them to callers unmodified.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - lifecycle.go: Consumes RecordStore, EmployeeDirectory, AuditLog
  - rates.go: Consumes RateStore
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordFilter selects payroll records. Zero fields match everything.
type RecordFilter struct {
	EmployeeID EmployeeID
	Period     *Period
	Status     []RecordStatus
	IDs        []RecordID
	Limit      int
}

// Matches applies the filter in memory.
func (f RecordFilter) Matches(r PayrollRecord) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Period != nil && r.Period != *f.Period {
		return false
	}
	if len(f.Status) > 0 && !containsStatus(f.Status, r.Status) {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == r.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStatus(list []RecordStatus, s RecordStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

type RecordStore interface {
	// InsertRecord stores a new record. ErrDuplicate if the ID or the
	// employee+period pair already exists.
	InsertRecord(ctx context.Context, r PayrollRecord) error

	// UpdateRecord overwrites r if the stored version equals expectedVersion.
	UpdateRecord(ctx context.Context, r PayrollRecord, expectedVersion int64) error

	// DeleteRecord removes a record if the stored version equals expectedVersion.
	DeleteRecord(ctx context.Context, id RecordID, expectedVersion int64) error

	GetRecord(ctx context.Context, id RecordID) (PayrollRecord, error)

	// SelectRecords returns matches ordered by period then employee.
	SelectRecords(ctx context.Context, filter RecordFilter) ([]PayrollRecord, error)
}

// =============================================================================
// RATE STORE
// =============================================================================

// RateFilter selects brackets or rates. Zero fields match everything.
type RateFilter struct {
	Country       string
	EffectiveDate *time.Time
	// OnOrBefore limits results to EffectiveDate <= OnOrBefore.
	OnOrBefore *time.Time
}

func (f RateFilter) matches(country string, effective time.Time) bool {
	if f.Country != "" && f.Country != country {
		return false
	}
	if f.EffectiveDate != nil && !f.EffectiveDate.Equal(effective) {
		return false
	}
	if f.OnOrBefore != nil && effective.After(*f.OnOrBefore) {
		return false
	}
	return true
}

// MatchesBracket applies the filter in memory.
func (f RateFilter) MatchesBracket(b TaxBracket) bool { return f.matches(b.Country, b.EffectiveDate) }

// MatchesRate applies the filter in memory.
func (f RateFilter) MatchesRate(r SocialSecurityRate) bool {
	return f.matches(r.Country, r.EffectiveDate)
}

type RateStore interface {
	// SaveBracket inserts (expectedVersion 0) or updates a bracket.
	SaveBracket(ctx context.Context, b TaxBracket, expectedVersion int64) error
	DeleteBracket(ctx context.Context, id BracketID) error
	GetBracket(ctx context.Context, id BracketID) (TaxBracket, error)
	// SelectBrackets returns matches ordered by country, effective date, min amount.
	SelectBrackets(ctx context.Context, filter RateFilter) ([]TaxBracket, error)

	SaveSocialSecurityRate(ctx context.Context, r SocialSecurityRate, expectedVersion int64) error
	DeleteSocialSecurityRate(ctx context.Context, id RateID) error
	GetSocialSecurityRate(ctx context.Context, id RateID) (SocialSecurityRate, error)
	// SelectSocialSecurityRates returns matches ordered by country, effective date.
	SelectSocialSecurityRates(ctx context.Context, filter RateFilter) ([]SocialSecurityRate, error)
}

// RateTxStore wraps RateStore with transaction support.
// If fn returns an error every write made through the passed store is rolled back.
type RateTxStore interface {
	RateStore
	WithTx(ctx context.Context, fn func(RateStore) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// EmployeeDirectory resolves employees. Returns ErrEmployeeNotFound for
// unknown IDs.
type EmployeeDirectory interface {
	Resolve(ctx context.Context, id EmployeeID) (Employee, error)
}

// ReportExporter renders finalized records, e.g. as PDF or spreadsheet.
type ReportExporter interface {
	Export(ctx context.Context, records []PayrollRecord) ([]byte, error)
}

// =============================================================================
// AUDIT LOG - Tracks what happened to each record
// =============================================================================

type AuditAction string

const (
	AuditCreated      AuditAction = "created"
	AuditEdited       AuditAction = "edited"
	AuditRecalculated AuditAction = "recalculated"
	AuditApproved     AuditAction = "approved"
	AuditPaid         AuditAction = "paid"
	AuditCancelled    AuditAction = "cancelled"
	AuditDeleted      AuditAction = "deleted"
)

// AuditEntry records one change to a payroll record.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	RecordID   RecordID
	Action     AuditAction
	FromStatus RecordStatus
	ToStatus   RecordStatus
	Payload    map[string]any
}

// AuditLog is append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// QueryAudit returns entries for a record, oldest first.
	QueryAudit(ctx context.Context, recordID RecordID) ([]AuditEntry, error)
}
