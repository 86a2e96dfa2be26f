/*
rates.go - Rate table configuration and resolution

PURPOSE:
  RateConfigStore is the only write path for tax brackets and
  social-security rates. Every write is validated first; a rejected write
  leaves the store untouched.

WRITE PATH:
  1. ValidateBracket / ValidateSocialSecurity: field shape
  2. Overlap or duplicate check against the same (country, effective date)
  3. Optimistic version check on update
  4. Persist

  Steps 2-4 run under one mutex so two concurrent writers cannot both
  pass the overlap check and then both write.

RESOLUTION (latest wins):
  For country C and period P, the applicable table is the bracket group
  whose effective date is the latest one on or before the first day of P.
  Groups are never merged across dates. The social-security rate is
  chosen the same way, independently.

    brackets X@2024-01-01, X@2025-01-01 ; period 2024-12 -> 2024-01-01 table
                                          period 2025-01 -> 2025-01-01 table

  Missing tables fail with CalculationError(no_rate_table). A table that
  does not partition [0, ∞) fails with CalculationError(incomplete_rate_table).
  Zero tax is never assumed.

IMPORT:
  ImportTable replaces a whole (country, effective date) group in one
  store transaction. Either the complete table is written or nothing is.

SEE ALSO:
  - validation.go: Field checks and overlap detection
  - factory/rates.go: Builds RateTableInput values from YAML/JSON files
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateConfigStore validates and persists rate tables.
type RateConfigStore struct {
	store  RateTxStore
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger

	mu sync.Mutex
}

// NewRateConfigStore wraps a rate store. Options may be nil.
func NewRateConfigStore(store RateTxStore, opts ...Option) *RateConfigStore {
	o := applyOptions(opts)
	return &RateConfigStore{
		store:  store,
		clock:  o.clock,
		newID:  o.newID,
		logger: o.logger.Named("rates"),
	}
}

// =============================================================================
// TAX BRACKETS
// =============================================================================

// AddOrUpdateBracket validates and stores a bracket.
func (s *RateConfigStore) AddOrUpdateBracket(ctx context.Context, in BracketInput) (TaxBracket, error) {
	b, err := ValidateBracket(in)
	if err != nil {
		return TaxBracket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	expected := int64(0)
	if b.ID != "" {
		current, err := s.store.GetBracket(ctx, b.ID)
		if err != nil && !errors.Is(err, ErrBracketNotFound) {
			return TaxBracket{}, err
		}
		if err == nil {
			if in.Version != current.Version {
				return TaxBracket{}, &ConcurrencyError{Entity: "tax bracket", ID: string(b.ID), Expected: in.Version, Actual: current.Version}
			}
			expected = current.Version
			b.CreatedAt = current.CreatedAt
		}
	} else {
		b.ID = BracketID(s.newID())
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Version = expected + 1

	date := b.EffectiveDate
	group, err := s.store.SelectBrackets(ctx, RateFilter{Country: b.Country, EffectiveDate: &date})
	if err != nil {
		return TaxBracket{}, err
	}
	if conflicts := FindOverlaps(b, group); len(conflicts) > 0 {
		s.logger.Info("bracket rejected",
			zap.String("country", b.Country),
			zap.String("range", b.Range()),
			zap.Int("conflicts", len(conflicts)))
		return TaxBracket{}, &ValidationError{
			Code:      CodeBracketOverlap,
			Field:     "min_amount",
			Message:   fmt.Sprintf("bracket %s overlaps existing brackets for %s effective %s", b.Range(), b.Country, date.Format(DateLayout)),
			Conflicts: conflicts,
		}
	}

	if err := s.store.SaveBracket(ctx, b, expected); err != nil {
		return TaxBracket{}, err
	}
	s.logger.Debug("bracket saved", zap.String("id", string(b.ID)), zap.String("range", b.Range()))
	return b, nil
}

func (s *RateConfigStore) DeleteBracket(ctx context.Context, id BracketID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteBracket(ctx, id)
}

func (s *RateConfigStore) GetBracket(ctx context.Context, id BracketID) (TaxBracket, error) {
	return s.store.GetBracket(ctx, id)
}

func (s *RateConfigStore) ListBrackets(ctx context.Context, filter RateFilter) ([]TaxBracket, error) {
	return s.store.SelectBrackets(ctx, filter)
}

// =============================================================================
// SOCIAL SECURITY RATES
// =============================================================================

// AddOrUpdateSocialSecurityRate validates and stores a rate. At most one
// rate may exist per (country, effective date).
func (s *RateConfigStore) AddOrUpdateSocialSecurityRate(ctx context.Context, in SocialSecurityInput) (SocialSecurityRate, error) {
	r, err := ValidateSocialSecurity(in)
	if err != nil {
		return SocialSecurityRate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	expected := int64(0)
	if r.ID != "" {
		current, err := s.store.GetSocialSecurityRate(ctx, r.ID)
		if err != nil && !errors.Is(err, ErrRateNotFound) {
			return SocialSecurityRate{}, err
		}
		if err == nil {
			if in.Version != current.Version {
				return SocialSecurityRate{}, &ConcurrencyError{Entity: "social security rate", ID: string(r.ID), Expected: in.Version, Actual: current.Version}
			}
			expected = current.Version
			r.CreatedAt = current.CreatedAt
		}
	} else {
		r.ID = RateID(s.newID())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = expected + 1

	date := r.EffectiveDate
	existing, err := s.store.SelectSocialSecurityRates(ctx, RateFilter{Country: r.Country, EffectiveDate: &date})
	if err != nil {
		return SocialSecurityRate{}, err
	}
	for _, e := range existing {
		if e.ID != r.ID {
			conflict := e
			return SocialSecurityRate{}, &ValidationError{
				Code:         CodeDuplicateRate,
				Field:        "effective_date",
				Message:      fmt.Sprintf("a social security rate for %s effective %s already exists", r.Country, date.Format(DateLayout)),
				ConflictRate: &conflict,
			}
		}
	}

	if err := s.store.SaveSocialSecurityRate(ctx, r, expected); err != nil {
		return SocialSecurityRate{}, err
	}
	return r, nil
}

func (s *RateConfigStore) DeleteSocialSecurityRate(ctx context.Context, id RateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteSocialSecurityRate(ctx, id)
}

func (s *RateConfigStore) GetSocialSecurityRate(ctx context.Context, id RateID) (SocialSecurityRate, error) {
	return s.store.GetSocialSecurityRate(ctx, id)
}

func (s *RateConfigStore) ListSocialSecurityRates(ctx context.Context, filter RateFilter) ([]SocialSecurityRate, error) {
	return s.store.SelectSocialSecurityRates(ctx, filter)
}

// =============================================================================
// TABLE IMPORT
// =============================================================================

// RateTableInput is a complete table for one country and effective date.
type RateTableInput struct {
	Country        string
	EffectiveDate  string
	Brackets       []BracketInput
	SocialSecurity *SocialSecurityInput
}

// ImportTable replaces the bracket group (and the social-security rate, if
// given) for the table's country and effective date.
func (s *RateConfigStore) ImportTable(ctx context.Context, in RateTableInput) (RateTable, error) {
	brackets := make([]TaxBracket, 0, len(in.Brackets))
	for i, bi := range in.Brackets {
		bi.ID = ""
		bi.Country = in.Country
		bi.EffectiveDate = in.EffectiveDate
		b, err := ValidateBracket(bi)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.Field = fmt.Sprintf("brackets[%d].%s", i, verr.Field)
			}
			return RateTable{}, err
		}
		brackets = append(brackets, b)
	}
	brackets = sortBrackets(brackets)
	for i := range brackets {
		if conflicts := FindOverlaps(brackets[i], brackets[i+1:]); len(conflicts) > 0 {
			return RateTable{}, &ValidationError{
				Code:      CodeBracketOverlap,
				Field:     "brackets",
				Message:   fmt.Sprintf("bracket %s overlaps another bracket in the same table", brackets[i].Range()),
				Conflicts: conflicts,
			}
		}
	}
	if gap := tableGap(brackets); gap != "" {
		return RateTable{}, &ValidationError{Code: CodeInvalidTable, Field: "brackets", Message: gap}
	}

	var ss *SocialSecurityRate
	if in.SocialSecurity != nil {
		si := *in.SocialSecurity
		si.ID = ""
		si.Country = in.Country
		si.EffectiveDate = in.EffectiveDate
		r, err := ValidateSocialSecurity(si)
		if err != nil {
			return RateTable{}, err
		}
		ss = &r
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	country := brackets[0].Country
	date := brackets[0].EffectiveDate
	filter := RateFilter{Country: country, EffectiveDate: &date}

	table := RateTable{Country: country, EffectiveDate: date}
	err := s.store.WithTx(ctx, func(tx RateStore) error {
		old, err := tx.SelectBrackets(ctx, filter)
		if err != nil {
			return err
		}
		for _, b := range old {
			if err := tx.DeleteBracket(ctx, b.ID); err != nil {
				return err
			}
		}
		for i := range brackets {
			brackets[i].ID = BracketID(s.newID())
			brackets[i].Version = 1
			brackets[i].CreatedAt = now
			brackets[i].UpdatedAt = now
			if err := tx.SaveBracket(ctx, brackets[i], 0); err != nil {
				return err
			}
		}
		table.Brackets = brackets

		if ss == nil {
			return nil
		}
		oldRates, err := tx.SelectSocialSecurityRates(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range oldRates {
			if err := tx.DeleteSocialSecurityRate(ctx, r.ID); err != nil {
				return err
			}
		}
		ss.ID = RateID(s.newID())
		ss.Version = 1
		ss.CreatedAt = now
		ss.UpdatedAt = now
		table.SocialSecurity = *ss
		return tx.SaveSocialSecurityRate(ctx, *ss, 0)
	})
	if err != nil {
		return RateTable{}, err
	}

	s.logger.Info("rate table imported",
		zap.String("country", country),
		zap.String("effective_date", date.Format(DateLayout)),
		zap.Int("brackets", len(brackets)),
		zap.Bool("social_security", ss != nil))
	return table, nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve returns the rate table applicable to country in period.
func (s *RateConfigStore) Resolve(ctx context.Context, country string, period Period) (RateTable, error) {
	country = normalizeCountry(country)
	start := period.Start()

	brackets, err := s.store.SelectBrackets(ctx, RateFilter{Country: country, OnOrBefore: &start})
	if err != nil {
		return RateTable{}, err
	}
	if len(brackets) == 0 {
		return RateTable{}, &CalculationError{
			Code: CodeNoRateTable, Reason: "no rate table: no tax brackets in effect",
			Country: country, Period: period,
		}
	}
	latest := brackets[0].EffectiveDate
	for _, b := range brackets[1:] {
		if b.EffectiveDate.After(latest) {
			latest = b.EffectiveDate
		}
	}
	var group []TaxBracket
	for _, b := range brackets {
		if b.EffectiveDate.Equal(latest) {
			group = append(group, b)
		}
	}
	group = sortBrackets(group)
	if gap := tableGap(group); gap != "" {
		return RateTable{}, &CalculationError{
			Code: CodeIncompleteRateTable, Reason: fmt.Sprintf("rate table effective %s is incomplete: %s", latest.Format(DateLayout), gap),
			Country: country, Period: period,
		}
	}

	rates, err := s.store.SelectSocialSecurityRates(ctx, RateFilter{Country: country, OnOrBefore: &start})
	if err != nil {
		return RateTable{}, err
	}
	if len(rates) == 0 {
		return RateTable{}, &CalculationError{
			Code: CodeNoRateTable, Reason: "no rate table: no social security rate in effect",
			Country: country, Period: period,
		}
	}
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].EffectiveDate.After(rates[j].EffectiveDate) })

	return RateTable{
		Country:        country,
		EffectiveDate:  latest,
		Brackets:       group,
		SocialSecurity: rates[0],
	}, nil
}
