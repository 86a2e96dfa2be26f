package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT TYPES
// =============================================================================

// BracketInput creates a bracket (empty ID) or updates one.
type BracketInput struct {
	ID            BracketID
	Country       string
	MinAmount     decimal.Decimal
	MaxAmount     *decimal.Decimal
	Rate          decimal.Decimal
	EffectiveDate string
	// Version is the version last read; required on update.
	Version int64
}

// SocialSecurityInput creates a rate (empty ID) or updates one.
type SocialSecurityInput struct {
	ID            RateID
	Country       string
	EmployeeRate  decimal.Decimal
	EmployerRate  decimal.Decimal
	MaxBase       decimal.Decimal
	EffectiveDate string
	Version       int64
}

// CompensationInput is what a caller submits to create a record.
type CompensationInput struct {
	EmployeeID EmployeeID
	Period     string
	// Currency defaults to Settings.DefaultCurrency.
	Currency string
	Compensation
}

// CompensationUpdate replaces the inputs of an existing record.
type CompensationUpdate struct {
	Currency string
	Compensation
}

// =============================================================================
// FIELD CHECKS
// =============================================================================

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func checkPercent(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return invalidField(field, "%s must be between 0 and 100, got %s", field, v)
	}
	return nil
}

func checkNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalidField(field, "%s must not be negative, got %s", field, v)
	}
	return nil
}

func checkEffectiveDate(s string) (time.Time, error) {
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, invalidField("effective_date", "%v", err)
	}
	return t, nil
}

// ValidateBracket checks the shape of a bracket input and returns the
// normalized bracket. Overlap is checked by the rate store.
func ValidateBracket(in BracketInput) (TaxBracket, error) {
	country := normalizeCountry(in.Country)
	if country == "" {
		return TaxBracket{}, invalidField("country", "country is required")
	}
	effective, err := checkEffectiveDate(in.EffectiveDate)
	if err != nil {
		return TaxBracket{}, err
	}
	if err := checkNonNegative("min_amount", in.MinAmount); err != nil {
		return TaxBracket{}, err
	}
	if in.MaxAmount != nil && !in.MinAmount.LessThan(*in.MaxAmount) {
		return TaxBracket{}, invalidField("max_amount", "min_amount %s must be less than max_amount %s",
			in.MinAmount, *in.MaxAmount)
	}
	if err := checkPercent("rate", in.Rate); err != nil {
		return TaxBracket{}, err
	}
	return TaxBracket{
		ID:            in.ID,
		Country:       country,
		MinAmount:     in.MinAmount,
		MaxAmount:     in.MaxAmount,
		Rate:          in.Rate,
		EffectiveDate: effective,
		Version:       in.Version,
	}, nil
}

// ValidateSocialSecurity checks the shape of a rate input.
func ValidateSocialSecurity(in SocialSecurityInput) (SocialSecurityRate, error) {
	country := normalizeCountry(in.Country)
	if country == "" {
		return SocialSecurityRate{}, invalidField("country", "country is required")
	}
	effective, err := checkEffectiveDate(in.EffectiveDate)
	if err != nil {
		return SocialSecurityRate{}, err
	}
	if err := checkPercent("employee_rate", in.EmployeeRate); err != nil {
		return SocialSecurityRate{}, err
	}
	if err := checkPercent("employer_rate", in.EmployerRate); err != nil {
		return SocialSecurityRate{}, err
	}
	if !in.MaxBase.IsPositive() {
		return SocialSecurityRate{}, invalidField("max_base", "max_base must be positive, got %s", in.MaxBase)
	}
	return SocialSecurityRate{
		ID:            in.ID,
		Country:       country,
		EmployeeRate:  in.EmployeeRate,
		EmployerRate:  in.EmployerRate,
		MaxBase:       in.MaxBase,
		EffectiveDate: effective,
		Version:       in.Version,
	}, nil
}

// ValidateCompensation rejects negative amounts.
func ValidateCompensation(c Compensation) error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"base_salary", c.BaseSalary},
		{"bonuses", c.Bonuses},
		{"overtime_pay", c.OvertimePay},
		{"allowances", c.Allowances},
		{"leave_deductions", c.LeaveDeductions},
		{"other_deductions", c.OtherDeductions},
	}
	for _, f := range fields {
		if err := checkNonNegative(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCurrency resolves the record currency against settings.
func ValidateCurrency(currency string, settings Settings) (string, error) {
	if currency == "" {
		currency = settings.DefaultCurrency
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(currency) {
		return "", invalidField("currency", "currency %q must be a 3-letter ISO code", currency)
	}
	return currency, nil
}

// ValidateCompensationInput checks a create request.
func ValidateCompensationInput(in CompensationInput, settings Settings) (Period, string, error) {
	if strings.TrimSpace(string(in.EmployeeID)) == "" {
		return Period{}, "", invalidField("employee_id", "employee_id is required")
	}
	period, err := ParsePeriod(in.Period)
	if err != nil {
		return Period{}, "", invalidField("period", "%v", err)
	}
	currency, err := ValidateCurrency(in.Currency, settings)
	if err != nil {
		return Period{}, "", err
	}
	if err := ValidateCompensation(in.Compensation); err != nil {
		return Period{}, "", err
	}
	return period, currency, nil
}

// =============================================================================
// BRACKET TABLE CHECKS
// =============================================================================

// Overlaps reports whether two brackets share any income.
// A nil MaxAmount is unbounded.
func Overlaps(a, b TaxBracket) bool {
	aMax, aBounded := a.Upper()
	bMax, bBounded := b.Upper()
	aBeforeB := !bBounded || a.MinAmount.LessThan(bMax)
	bBeforeA := !aBounded || b.MinAmount.LessThan(aMax)
	return aBeforeB && bBeforeA
}

// FindOverlaps returns every existing bracket of the same country and
// effective date that overlaps candidate, skipping candidate itself.
func FindOverlaps(candidate TaxBracket, existing []TaxBracket) []TaxBracket {
	var conflicts []TaxBracket
	for _, e := range existing {
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		if e.Country != candidate.Country || !e.EffectiveDate.Equal(candidate.EffectiveDate) {
			continue
		}
		if Overlaps(candidate, e) {
			conflicts = append(conflicts, e)
		}
	}
	return conflicts
}

// tableGap returns a description of the first hole in a sorted bracket
// list, or "" if the list partitions [0, ∞). Only the last bracket may be
// open-ended.
func tableGap(sorted []TaxBracket) string {
	if len(sorted) == 0 {
		return "no brackets"
	}
	if !sorted[0].MinAmount.IsZero() {
		return fmt.Sprintf("first bracket starts at %s, not 0", sorted[0].MinAmount)
	}
	for i := 1; i < len(sorted); i++ {
		prevMax, bounded := sorted[i-1].Upper()
		if !bounded {
			return fmt.Sprintf("bracket %s is open-ended but not the highest", sorted[i-1].Range())
		}
		if !prevMax.Equal(sorted[i].MinAmount) {
			return fmt.Sprintf("gap or overlap between %s and %s", sorted[i-1].Range(), sorted[i].Range())
		}
	}
	return ""
}
