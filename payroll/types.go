/*
Package payroll provides the payroll calculation engine.

PURPOSE:
  This package turns an employee's compensation inputs for a pay period into
  gross salary, income tax, social-security contribution and net salary, and
  governs the lifecycle of the resulting payroll record. Rate tables (tax
  brackets and social-security rates) are configured per country and
  effective date and resolved at calculation time.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: the year-month a payroll record applies to ("2025-03")
  - TaxBracket / SocialSecurityRate: configurable rate entries
  - PayrollRecord: the stored result of a calculation plus its status
  - Typed IDs so record, bracket and employee IDs are never mixed up

DESIGN PRINCIPLES:
  1. Precision: all money and percentages are decimal.Decimal
  2. Snapshotting: a record stores the numbers it was calculated with,
     never a live reference to the rate tables
  3. Determinism: identical inputs and rate tables give identical outputs

USAGE:
  table, err := rates.Resolve(ctx, "X", payroll.MustParsePeriod("2025-03"))
  breakdown, err := payroll.Calculate(input, table, settings)

SEE ALSO:
  - calc.go: Tax, social-security and net calculation
  - rates.go: Rate table configuration and resolution
  - lifecycle.go: Record create/edit/approve/pay/delete
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type EmployeeID string
type BracketID string
type RateID string

// =============================================================================
// DATES - Periods and effective dates
// =============================================================================

// DateLayout is the wire format of effective dates.
const DateLayout = "2006-01-02"

// PeriodLayout is the wire format of payroll periods.
const PeriodLayout = "2006-01"

// Period is a calendar month a payroll record applies to.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil || len(s) != len(PeriodLayout) {
		return Period{}, fmt.Errorf("invalid period %q: expected YYYY-MM", s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// MustParsePeriod panics on malformed input. Tests and fixtures only.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is the first day of the period (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first day of the following period (exclusive).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Before(o Period) bool {
	return p.Start().Before(o.Start())
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// ParseDate parses an effective date in "YYYY-MM-DD" form.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// =============================================================================
// RATE TABLE ENTRIES
// =============================================================================

// TaxBracket is one marginal band of a country's income tax table.
// A nil MaxAmount marks the open-ended top bracket.
type TaxBracket struct {
	ID            BracketID
	Country       string
	MinAmount     decimal.Decimal
	MaxAmount     *decimal.Decimal
	Rate          decimal.Decimal // percent
	EffectiveDate time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Upper returns the bracket's upper bound and whether it is bounded.
func (b TaxBracket) Upper() (decimal.Decimal, bool) {
	if b.MaxAmount == nil {
		return decimal.Zero, false
	}
	return *b.MaxAmount, true
}

// Range renders the bracket as "[min,max)".
func (b TaxBracket) Range() string {
	if b.MaxAmount == nil {
		return fmt.Sprintf("[%s,∞)", b.MinAmount.String())
	}
	return fmt.Sprintf("[%s,%s)", b.MinAmount.String(), b.MaxAmount.String())
}

// SocialSecurityRate defines contributions for a country from EffectiveDate on.
type SocialSecurityRate struct {
	ID            RateID
	Country       string
	EmployeeRate  decimal.Decimal // percent
	EmployerRate  decimal.Decimal // percent
	MaxBase       decimal.Decimal
	EffectiveDate time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RateTable is the resolved set of rates a calculation runs against.
type RateTable struct {
	Country        string
	EffectiveDate  time.Time
	Brackets       []TaxBracket // sorted by MinAmount
	SocialSecurity SocialSecurityRate
}

// =============================================================================
// PAYROLL RECORD
// =============================================================================

type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusApproved  RecordStatus = "approved"
	StatusPaid      RecordStatus = "paid"
	StatusCancelled RecordStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RecordStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Compensation holds the caller-supplied inputs of a calculation.
type Compensation struct {
	BaseSalary      decimal.Decimal
	Bonuses         decimal.Decimal
	OvertimePay     decimal.Decimal
	Allowances      decimal.Decimal
	LeaveDeductions decimal.Decimal
	OtherDeductions decimal.Decimal
}

// PayrollRecord is one employee's payroll for one period.
type PayrollRecord struct {
	ID         RecordID
	EmployeeID EmployeeID
	Country    string
	Period     Period
	Currency   string

	Compensation

	// Derived by the calculation engine.
	GrossSalary              decimal.Decimal
	TaxAmount                decimal.Decimal
	SocialSecurity           decimal.Decimal
	EmployerContribution     decimal.Decimal
	NetSalary                decimal.Decimal
	InsufficientFundsWarning bool

	// What the calculation ran against.
	TaxPolicy            TaxPolicy
	TaxTableDate         *time.Time
	SocialSecurityRateID RateID
	CalculatedAt         *time.Time

	Status      RecordStatus
	PaymentDate *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Calculated reports whether derived fields are populated.
func (r PayrollRecord) Calculated() bool {
	return r.CalculatedAt != nil
}

// Employee is what the directory knows about a payee.
type Employee struct {
	ID      EmployeeID
	Name    string
	Email   string
	Country string
}
