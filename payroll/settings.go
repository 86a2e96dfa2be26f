package payroll

import (
	"fmt"
	"regexp"
)

// TaxPolicy selects how brackets are applied to gross income.
type TaxPolicy string

const (
	// TaxProgressive taxes each slice of income at its own bracket rate.
	TaxProgressive TaxPolicy = "progressive"
	// TaxFlatThreshold applies the rate of the bracket containing gross to
	// all of gross. Kept as a named alternative; never the default.
	TaxFlatThreshold TaxPolicy = "flat_threshold"
)

type PayFrequency string

const (
	PayMonthly  PayFrequency = "monthly"
	PayBiweekly PayFrequency = "biweekly"
	PayWeekly   PayFrequency = "weekly"
)

// Settings is the payroll configuration passed into every engine call.
// The engine holds no global configuration.
type Settings struct {
	DefaultCurrency   string
	PayFrequency      PayFrequency
	AutoCalculate     bool
	AutoApproveOnEdit bool
	TaxPolicy         TaxPolicy
	RoundingPlaces    int32
}

// DefaultSettings returns monthly progressive payroll with cent rounding.
func DefaultSettings() Settings {
	return Settings{
		DefaultCurrency: "USD",
		PayFrequency:    PayMonthly,
		AutoCalculate:   true,
		TaxPolicy:       TaxProgressive,
		RoundingPlaces:  2,
	}
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks settings shape.
func (s Settings) Validate() error {
	if !currencyPattern.MatchString(s.DefaultCurrency) {
		return invalidField("default_currency", "currency %q must be a 3-letter ISO code", s.DefaultCurrency)
	}
	switch s.PayFrequency {
	case PayMonthly, PayBiweekly, PayWeekly:
	default:
		return invalidField("pay_frequency", "unknown pay frequency %q", s.PayFrequency)
	}
	switch s.TaxPolicy {
	case TaxProgressive, TaxFlatThreshold:
	default:
		return invalidField("tax_policy", "unknown tax policy %q", s.TaxPolicy)
	}
	if s.RoundingPlaces < 0 || s.RoundingPlaces > 8 {
		return invalidField("rounding_places", "rounding places must be between 0 and 8, got %d", s.RoundingPlaces)
	}
	return nil
}

func (s Settings) String() string {
	return fmt.Sprintf("%s/%s/%s", s.DefaultCurrency, s.PayFrequency, s.TaxPolicy)
}
