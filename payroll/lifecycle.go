/*
lifecycle.go - Payroll record lifecycle

PURPOSE:
  Engine owns every state change of a payroll record: creation,
  recalculation/editing and status transitions, single or bulk.

STATE MACHINE:

    create ──► pending ──approve──► approved ──mark_paid──► paid
                  │                    │
                  └──────cancel────────┴──────────────────► cancelled

  paid and cancelled are terminal. delete removes a record in any state.

EDIT POLICY:
  Editing inputs recomputes every derived field. What happens to status is
  decided by Settings.AutoApproveOnEdit:
    true:  the edited record becomes approved
    false: an approved record goes back to pending for re-approval
  An edit must carry the version the caller read.
  A recalculation without new inputs that changes the figures (new rates)
  also sends an approved record back to pending. One that changes nothing
  writes nothing and keeps the approval.
  Paid and cancelled records cannot be edited.

BULK OPERATIONS:
  Transition processes ids one at a time, independently. A failure on one
  record is reported in BulkResult.Failed and the batch continues. A record
  already in the requested state is reported as skipped, so re-running an
  interrupted batch is a no-op for the records it already processed.

CONCURRENCY:
  Every write carries the version that was read. The store rejects it with
  *ConcurrencyError if someone else wrote in between. Nothing is merged.

SEE ALSO:
  - calc.go: The calculation applied on create/recalculate
  - rates.go: Rate resolution
  - store.go: RecordStore contract
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Engine applies calculations and lifecycle rules to payroll records.
type Engine struct {
	records   RecordStore
	rates     *RateConfigStore
	directory EmployeeDirectory
	audit     AuditLog

	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

// NewEngine wires the engine. audit may be nil.
func NewEngine(records RecordStore, rates *RateConfigStore, directory EmployeeDirectory, audit AuditLog, opts ...Option) *Engine {
	o := applyOptions(opts)
	return &Engine{
		records:   records,
		rates:     rates,
		directory: directory,
		audit:     audit,
		clock:     o.clock,
		newID:     o.newID,
		logger:    o.logger.Named("payroll"),
	}
}

// Rates exposes the rate configuration the engine calculates against.
func (e *Engine) Rates() *RateConfigStore { return e.rates }

// =============================================================================
// CREATE
// =============================================================================

// CreatePayrollRecord validates inputs, calculates and stores a pending record.
// With settings.AutoCalculate off the record is stored uncalculated.
func (e *Engine) CreatePayrollRecord(ctx context.Context, settings Settings, in CompensationInput) (PayrollRecord, error) {
	if err := settings.Validate(); err != nil {
		return PayrollRecord{}, err
	}
	period, currency, err := ValidateCompensationInput(in, settings)
	if err != nil {
		return PayrollRecord{}, err
	}

	emp, err := e.directory.Resolve(ctx, in.EmployeeID)
	if errors.Is(err, ErrEmployeeNotFound) {
		return PayrollRecord{}, &CalculationError{Code: CodeUnknownEmployee, Reason: "unknown employee", EmployeeID: in.EmployeeID}
	}
	if err != nil {
		return PayrollRecord{}, persistErr("resolve employee", err)
	}
	country := normalizeCountry(emp.Country)
	if country == "" {
		return PayrollRecord{}, &CalculationError{Code: CodeUnknownEmployee, Reason: "employee has no country", EmployeeID: in.EmployeeID}
	}

	existing, err := e.records.SelectRecords(ctx, RecordFilter{EmployeeID: in.EmployeeID, Period: &period, Limit: 1})
	if err != nil {
		return PayrollRecord{}, persistErr("select records", err)
	}
	if len(existing) > 0 {
		return PayrollRecord{}, duplicateRecord(in.EmployeeID, period, existing[0].ID)
	}

	now := e.clock()
	rec := PayrollRecord{
		ID:           RecordID(e.newID()),
		EmployeeID:   in.EmployeeID,
		Country:      country,
		Period:       period,
		Currency:     currency,
		Compensation: in.Compensation,
		Status:       StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if settings.AutoCalculate {
		if err := e.calculate(ctx, &rec, settings, now); err != nil {
			return PayrollRecord{}, err
		}
	}

	if err := e.records.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return PayrollRecord{}, duplicateRecord(in.EmployeeID, period, "")
		}
		return PayrollRecord{}, persistErr("insert record", err)
	}

	e.logger.Info("payroll record created",
		zap.String("id", string(rec.ID)),
		zap.String("employee_id", string(rec.EmployeeID)),
		zap.String("period", rec.Period.String()),
		zap.Bool("calculated", rec.Calculated()),
		zap.Bool("insufficient_funds", rec.InsufficientFundsWarning))
	e.record(ctx, rec.ID, AuditCreated, "", rec.Status, map[string]any{
		"net_salary": rec.NetSalary.String(),
	})
	return rec, nil
}

func duplicateRecord(emp EmployeeID, period Period, existing RecordID) *ValidationError {
	msg := fmt.Sprintf("employee %s already has a payroll record for %s", emp, period)
	if existing != "" {
		msg += fmt.Sprintf(" (%s)", existing)
	}
	return &ValidationError{Code: CodeDuplicateRecord, Field: "period", Message: msg}
}

// calculate resolves rates and stores the breakdown on rec.
func (e *Engine) calculate(ctx context.Context, rec *PayrollRecord, settings Settings, now time.Time) error {
	table, err := e.rates.Resolve(ctx, rec.Country, rec.Period)
	if err != nil {
		var cerr *CalculationError
		if errors.As(err, &cerr) {
			cerr.EmployeeID = rec.EmployeeID
			e.logger.Warn("calculation aborted",
				zap.String("employee_id", string(rec.EmployeeID)),
				zap.String("code", cerr.Code))
			return cerr
		}
		return persistErr("resolve rates", err)
	}

	Calculate(rec.Compensation, table, settings).apply(rec)
	tableDate := table.EffectiveDate
	rec.TaxTableDate = &tableDate
	rec.SocialSecurityRateID = table.SocialSecurity.ID
	calculatedAt := now
	rec.CalculatedAt = &calculatedAt
	return nil
}

// =============================================================================
// RECALCULATE / EDIT
// =============================================================================

// RecalculateInput carries optional new inputs and the version last read.
// ExpectedVersion is required with Inputs. A plain recompute may pass 0 to
// skip the caller-side check; the store still guards the write.
type RecalculateInput struct {
	Inputs          *CompensationUpdate
	ExpectedVersion int64
}

// Recalculate recomputes a record, replacing its inputs when given.
// Recomputing unchanged inputs against unchanged rates writes nothing.
func (e *Engine) Recalculate(ctx context.Context, settings Settings, id RecordID, in RecalculateInput) (PayrollRecord, error) {
	if err := settings.Validate(); err != nil {
		return PayrollRecord{}, err
	}
	edit := in.Inputs != nil
	if edit && in.ExpectedVersion <= 0 {
		return PayrollRecord{}, invalidField("version", "version is required when editing payroll record %s", id)
	}
	current, err := e.records.GetRecord(ctx, id)
	if err != nil {
		return PayrollRecord{}, persistErr("get record", err)
	}
	if in.ExpectedVersion != 0 && in.ExpectedVersion != current.Version {
		return PayrollRecord{}, &ConcurrencyError{Entity: "payroll record", ID: string(id), Expected: in.ExpectedVersion, Actual: current.Version}
	}
	if current.Status.IsTerminal() {
		return PayrollRecord{}, &ValidationError{
			Code:    CodeRecordLocked,
			Field:   "status",
			Message: fmt.Sprintf("payroll record %s is %s and can no longer change", id, current.Status),
		}
	}

	updated := current
	if edit {
		if err := ValidateCompensation(in.Inputs.Compensation); err != nil {
			return PayrollRecord{}, err
		}
		currency := in.Inputs.Currency
		if currency == "" {
			currency = current.Currency
		}
		if updated.Currency, err = ValidateCurrency(currency, settings); err != nil {
			return PayrollRecord{}, err
		}
		updated.Compensation = in.Inputs.Compensation
	}

	now := e.clock()
	if err := e.calculate(ctx, &updated, settings, now); err != nil {
		return PayrollRecord{}, err
	}
	if !edit && sameCalculation(current, updated) {
		return current, nil
	}

	// Changed figures need a fresh approval, whether inputs or rates moved.
	action := AuditRecalculated
	if edit {
		action = AuditEdited
	}
	switch {
	case edit && settings.AutoApproveOnEdit:
		updated.Status = StatusApproved
	case current.Status == StatusApproved:
		updated.Status = StatusPending
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = now

	if err := e.records.UpdateRecord(ctx, updated, current.Version); err != nil {
		return PayrollRecord{}, persistErr("update record", err)
	}

	e.logger.Info("payroll record recalculated",
		zap.String("id", string(id)),
		zap.Bool("edited", edit),
		zap.String("status", string(updated.Status)),
		zap.Int64("version", updated.Version))
	e.record(ctx, id, action, current.Status, updated.Status, map[string]any{
		"net_salary": updated.NetSalary.String(),
		"version":    updated.Version,
	})
	return updated, nil
}

// sameCalculation compares derived fields and the rate snapshot.
func sameCalculation(a, b PayrollRecord) bool {
	if !a.Calculated() || !b.Calculated() {
		return false
	}
	if a.TaxTableDate == nil || b.TaxTableDate == nil || !a.TaxTableDate.Equal(*b.TaxTableDate) {
		return false
	}
	return a.SocialSecurityRateID == b.SocialSecurityRateID && breakdownOf(b).sameAs(a)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

type Action string

const (
	ActionApprove  Action = "approve"
	ActionMarkPaid Action = "mark_paid"
	ActionCancel   Action = "cancel"
	ActionDelete   Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionMarkPaid, ActionCancel, ActionDelete:
		return true
	}
	return false
}

// BulkFailure explains why one record of a batch was not processed.
type BulkFailure struct {
	ID      RecordID
	Reason  string
	Message string
}

// BulkResult aggregates per-record outcomes of a transition.
type BulkResult struct {
	Action    Action
	Succeeded []RecordID
	Skipped   []RecordID
	Failed    []BulkFailure
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeSkipped
)

// Transition applies action to each id independently.
// The error is non-nil only for an unknown action.
func (e *Engine) Transition(ctx context.Context, action Action, ids ...RecordID) (BulkResult, error) {
	if !action.Valid() {
		return BulkResult{}, invalidField("action", "unknown action %q", action)
	}

	result := BulkResult{Action: action, Succeeded: []RecordID{}, Skipped: []RecordID{}, Failed: []BulkFailure{}}
	seen := make(map[RecordID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		out, err := e.transitionOne(ctx, action, id)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, BulkFailure{ID: id, Reason: ReasonCode(err), Message: err.Error()})
		case out == outcomeSkipped:
			result.Skipped = append(result.Skipped, id)
		default:
			result.Succeeded = append(result.Succeeded, id)
		}
	}

	e.logger.Info("transition applied",
		zap.String("action", string(action)),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (e *Engine) transitionOne(ctx context.Context, action Action, id RecordID) (outcome, error) {
	rec, err := e.records.GetRecord(ctx, id)
	if errors.Is(err, ErrRecordNotFound) && action == ActionDelete {
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, persistErr("get record", err)
	}

	if action == ActionDelete {
		if err := e.records.DeleteRecord(ctx, id, rec.Version); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return outcomeSkipped, nil
			}
			return 0, persistErr("delete record", err)
		}
		e.record(ctx, id, AuditDeleted, rec.Status, "", nil)
		return outcomeSucceeded, nil
	}

	from := rec.Status
	now := e.clock()
	var auditAction AuditAction
	switch action {
	case ActionApprove:
		if from != StatusPending {
			return outcomeSkipped, nil
		}
		if !rec.Calculated() {
			return 0, &ValidationError{Code: CodeNotCalculated, Field: "status", Message: fmt.Sprintf("payroll record %s has not been calculated", id)}
		}
		rec.Status = StatusApproved
		auditAction = AuditApproved
	case ActionMarkPaid:
		if from == StatusPaid {
			return outcomeSkipped, nil
		}
		if from != StatusApproved {
			return 0, invalidTransition(id, from, StatusPaid)
		}
		rec.Status = StatusPaid
		paid := now
		rec.PaymentDate = &paid
		auditAction = AuditPaid
	case ActionCancel:
		if from == StatusCancelled {
			return outcomeSkipped, nil
		}
		if from == StatusPaid {
			return 0, invalidTransition(id, from, StatusCancelled)
		}
		rec.Status = StatusCancelled
		auditAction = AuditCancelled
	}

	expected := rec.Version
	rec.Version++
	rec.UpdatedAt = now
	if err := e.records.UpdateRecord(ctx, rec, expected); err != nil {
		return 0, persistErr("update record", err)
	}
	e.record(ctx, id, auditAction, from, rec.Status, nil)
	return outcomeSucceeded, nil
}

func invalidTransition(id RecordID, from, to RecordStatus) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidTransition,
		Field:   "status",
		Message: fmt.Sprintf("payroll record %s cannot move from %s to %s", id, from, to),
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Get(ctx context.Context, id RecordID) (PayrollRecord, error) {
	rec, err := e.records.GetRecord(ctx, id)
	return rec, persistErr("get record", err)
}

func (e *Engine) List(ctx context.Context, filter RecordFilter) ([]PayrollRecord, error) {
	recs, err := e.records.SelectRecords(ctx, filter)
	return recs, persistErr("select records", err)
}

// History returns the audit trail of a record, oldest first.
func (e *Engine) History(ctx context.Context, id RecordID) ([]AuditEntry, error) {
	if e.audit == nil {
		return []AuditEntry{}, nil
	}
	entries, err := e.audit.QueryAudit(ctx, id)
	return entries, persistErr("query audit", err)
}

// record appends an audit entry. The state change already happened, so a
// failure here is logged and not returned.
func (e *Engine) record(ctx context.Context, id RecordID, action AuditAction, from, to RecordStatus, payload map[string]any) {
	if e.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:         e.newID(),
		Timestamp:  e.clock(),
		RecordID:   id,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Payload:    payload,
	}
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		e.logger.Warn("audit append failed",
			zap.String("record_id", string(id)),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
