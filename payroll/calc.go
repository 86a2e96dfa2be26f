/*
calc.go - Pure payroll calculation

PURPOSE:
  Derives gross salary, income tax, social-security contribution and net
  salary from compensation inputs and a resolved rate table. No I/O, no
  shared state: safe to call concurrently and always reproducible.

TAX MODELS:
  Progressive (default): each slice of income is taxed at the rate of the
  bracket it falls in.

    gross 16500, brackets [0,15000)@15 [15000,30000)@20 [30000,∞)@25
    tax = 15000×0.15 + 1500×0.20 = 2550

  Flat threshold (named alternative): the rate of the bracket containing
  gross is applied to all of gross. Jumps at boundaries; only used when
  Settings.TaxPolicy asks for it.

ROUNDING:
  Tax and social security are rounded half-up to Settings.RoundingPlaces
  after summation. Net is derived from the rounded components so that
  net = gross - tax - social - leave - other holds exactly.

SEE ALSO:
  - rates.go: Produces the RateTable consumed here
  - lifecycle.go: Stores the Breakdown on a PayrollRecord
*/
package payroll

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// TAX
// =============================================================================

// ComputeProgressiveTax returns marginal income tax on gross.
// The highest bracket is treated as open-ended.
func ComputeProgressiveTax(gross decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	sorted := sortBrackets(brackets)

	tax := decimal.Zero
	for i, b := range sorted {
		if gross.LessThanOrEqual(b.MinAmount) {
			break
		}
		upper := gross
		if max, bounded := b.Upper(); bounded && i < len(sorted)-1 && max.LessThan(gross) {
			upper = max
		}
		slice := upper.Sub(b.MinAmount)
		tax = tax.Add(slice.Mul(b.Rate).Div(hundred))
	}
	return tax
}

// ComputeFlatThresholdTax applies one rate to all of gross: the rate of the
// highest bracket whose MinAmount does not exceed gross.
func ComputeFlatThresholdTax(gross decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	rate := decimal.Zero
	for _, b := range sortBrackets(brackets) {
		if b.MinAmount.GreaterThan(gross) {
			break
		}
		rate = b.Rate
	}
	return gross.Mul(rate).Div(hundred)
}

// ComputeTax dispatches on policy.
func ComputeTax(policy TaxPolicy, gross decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	if policy == TaxFlatThreshold {
		return ComputeFlatThresholdTax(gross, brackets)
	}
	return ComputeProgressiveTax(gross, brackets)
}

func sortBrackets(brackets []TaxBracket) []TaxBracket {
	sorted := make([]TaxBracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinAmount.LessThan(sorted[j].MinAmount)
	})
	return sorted
}

// =============================================================================
// SOCIAL SECURITY
// =============================================================================

// Contribution is the social-security split for one gross amount.
// Employer is reported only; it never reduces net salary.
type Contribution struct {
	Base     decimal.Decimal
	Employee decimal.Decimal
	Employer decimal.Decimal
}

// ComputeSocialSecurity caps the base at MaxBase and applies both rates.
func ComputeSocialSecurity(gross decimal.Decimal, rate SocialSecurityRate) Contribution {
	base := decimal.Max(decimal.Zero, decimal.Min(gross, rate.MaxBase))
	return Contribution{
		Base:     base,
		Employee: base.Mul(rate.EmployeeRate).Div(hundred),
		Employer: base.Mul(rate.EmployerRate).Div(hundred),
	}
}

// =============================================================================
// NET
// =============================================================================

// ComputeNet subtracts all deductions from gross, flooring at zero.
// The flag reports that the floor was applied.
func ComputeNet(gross, tax, social, leave, other decimal.Decimal) (decimal.Decimal, bool) {
	net := gross.Sub(tax).Sub(social).Sub(leave).Sub(other)
	if net.IsNegative() {
		return decimal.Zero, true
	}
	return net, false
}

// =============================================================================
// FULL CALCULATION
// =============================================================================

// Breakdown is the result of one calculation.
type Breakdown struct {
	GrossSalary              decimal.Decimal
	TaxAmount                decimal.Decimal
	SocialSecurity           decimal.Decimal
	EmployerContribution     decimal.Decimal
	NetSalary                decimal.Decimal
	InsufficientFundsWarning bool
	TaxPolicy                TaxPolicy
}

// GrossOf sums the earning components.
func GrossOf(c Compensation) decimal.Decimal {
	return c.BaseSalary.Add(c.Bonuses).Add(c.OvertimePay).Add(c.Allowances)
}

// Calculate runs the whole pipeline for one compensation against table.
func Calculate(c Compensation, table RateTable, settings Settings) Breakdown {
	places := settings.RoundingPlaces
	policy := settings.TaxPolicy
	if policy == "" {
		policy = TaxProgressive
	}

	gross := GrossOf(c)
	tax := ComputeTax(policy, gross, table.Brackets).Round(places)
	contrib := ComputeSocialSecurity(gross, table.SocialSecurity)
	social := contrib.Employee.Round(places)
	net, warning := ComputeNet(gross, tax, social, c.LeaveDeductions, c.OtherDeductions)

	return Breakdown{
		GrossSalary:              gross,
		TaxAmount:                tax,
		SocialSecurity:           social,
		EmployerContribution:     contrib.Employer.Round(places),
		NetSalary:                net,
		InsufficientFundsWarning: warning,
		TaxPolicy:                policy,
	}
}

// apply copies the breakdown onto a record.
func (b Breakdown) apply(r *PayrollRecord) {
	r.GrossSalary = b.GrossSalary
	r.TaxAmount = b.TaxAmount
	r.SocialSecurity = b.SocialSecurity
	r.EmployerContribution = b.EmployerContribution
	r.NetSalary = b.NetSalary
	r.InsufficientFundsWarning = b.InsufficientFundsWarning
	r.TaxPolicy = b.TaxPolicy
}

func breakdownOf(r PayrollRecord) Breakdown {
	return Breakdown{
		GrossSalary:              r.GrossSalary,
		TaxAmount:                r.TaxAmount,
		SocialSecurity:           r.SocialSecurity,
		EmployerContribution:     r.EmployerContribution,
		NetSalary:                r.NetSalary,
		InsufficientFundsWarning: r.InsufficientFundsWarning,
		TaxPolicy:                r.TaxPolicy,
	}
}

// sameAs reports whether the record already carries this breakdown.
func (b Breakdown) sameAs(r PayrollRecord) bool {
	return r.Calculated() &&
		r.GrossSalary.Equal(b.GrossSalary) &&
		r.TaxAmount.Equal(b.TaxAmount) &&
		r.SocialSecurity.Equal(b.SocialSecurity) &&
		r.EmployerContribution.Equal(b.EmployerContribution) &&
		r.NetSalary.Equal(b.NetSalary) &&
		r.InsufficientFundsWarning == b.InsufficientFundsWarning &&
		r.TaxPolicy == b.TaxPolicy
}
