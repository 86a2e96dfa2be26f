package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var (
	now = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)
	eff = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func seedRates(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	brackets := []payroll.TaxBracket{
		{ID: "b1", Country: "X", MinAmount: d("0"), MaxAmount: dp("15000"), Rate: d("15"), EffectiveDate: eff},
		{ID: "b2", Country: "X", MinAmount: d("15000"), MaxAmount: dp("30000"), Rate: d("20"), EffectiveDate: eff},
		{ID: "b3", Country: "X", MinAmount: d("30000"), Rate: d("25"), EffectiveDate: eff},
	}
	for _, b := range brackets {
		b.CreatedAt, b.UpdatedAt = now, now
		require.NoError(t, s.SaveBracket(ctx, b, 0))
	}
	require.NoError(t, s.SaveSocialSecurityRate(ctx, payroll.SocialSecurityRate{
		ID: "ss1", Country: "X", EmployeeRate: d("7.5"), EmployerRate: d("12"), MaxBase: d("50000"),
		EffectiveDate: eff, CreatedAt: now, UpdatedAt: now,
	}, 0))
	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "emp-1", Name: "Alice", Country: "X"}))
}

func sampleRecord() payroll.PayrollRecord {
	calculated := now
	table := eff
	return payroll.PayrollRecord{
		ID:         "rec-1",
		EmployeeID: "emp-1",
		Country:    "X",
		Period:     payroll.MustParsePeriod("2025-03"),
		Currency:   "USD",
		Compensation: payroll.Compensation{
			BaseSalary: d("15000"),
			Bonuses:    d("1500"),
		},
		GrossSalary:          d("16500"),
		TaxAmount:            d("2550"),
		SocialSecurity:       d("1237.50"),
		EmployerContribution: d("1980"),
		NetSalary:            d("12712.50"),
		TaxPolicy:            payroll.TaxProgressive,
		TaxTableDate:         &table,
		SocialSecurityRateID: "ss1",
		CalculatedAt:         &calculated,
		Status:               payroll.StatusPending,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func TestRecords_RoundTripKeepsDecimalsExact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: A stored record
	require.NoError(t, s.InsertRecord(ctx, sampleRecord()))

	// WHEN: Reading it back
	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)

	// THEN: Amounts and snapshots survive unchanged
	assert.True(t, d("12712.50").Equal(got.NetSalary), "net %s", got.NetSalary)
	assert.True(t, d("1237.5").Equal(got.SocialSecurity))
	assert.True(t, got.LeaveDeductions.IsZero())
	assert.Equal(t, payroll.MustParsePeriod("2025-03"), got.Period)
	require.NotNil(t, got.TaxTableDate)
	assert.True(t, eff.Equal(*got.TaxTableDate))
	require.NotNil(t, got.CalculatedAt)
	assert.True(t, now.Equal(*got.CalculatedAt))
	assert.Nil(t, got.PaymentDate)
	assert.Equal(t, payroll.RateID("ss1"), got.SocialSecurityRateID)
	assert.Equal(t, int64(1), got.Version)
}

func TestRecords_DuplicateEmployeePeriodRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, sampleRecord()))

	dup := sampleRecord()
	dup.ID = "rec-2"
	err := s.InsertRecord(ctx, dup)

	assert.ErrorIs(t, err, payroll.ErrDuplicate)
}

func TestRecords_UpdateChecksVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, sampleRecord()))

	// WHEN: Updating with the current version
	rec := sampleRecord()
	rec.Status = payroll.StatusApproved
	require.NoError(t, s.UpdateRecord(ctx, rec, 1))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, payroll.StatusApproved, got.Status)

	// WHEN: Updating again with the stale version
	err = s.UpdateRecord(ctx, rec, 1)

	// THEN: Conflict carrying the stored version
	var ce *payroll.ConcurrencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(1), ce.Expected)
	assert.Equal(t, int64(2), ce.Actual)
}

func TestRecords_UpdateMissing(t *testing.T) {
	s := newStore(t)
	err := s.UpdateRecord(context.Background(), sampleRecord(), 1)
	assert.ErrorIs(t, err, payroll.ErrRecordNotFound)
}

func TestRecords_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, sampleRecord()))

	var ce *payroll.ConcurrencyError
	assert.True(t, errors.As(s.DeleteRecord(ctx, "rec-1", 5), &ce))

	require.NoError(t, s.DeleteRecord(ctx, "rec-1", 1))
	_, err := s.GetRecord(ctx, "rec-1")
	assert.ErrorIs(t, err, payroll.ErrRecordNotFound)
	assert.ErrorIs(t, s.DeleteRecord(ctx, "rec-1", 1), payroll.ErrRecordNotFound)
}

func TestRecords_SelectFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, period := range []string{"2025-01", "2025-02", "2025-03"} {
		rec := sampleRecord()
		rec.ID = payroll.RecordID("rec-" + period)
		rec.Period = payroll.MustParsePeriod(period)
		if i == 2 {
			rec.Status = payroll.StatusApproved
		}
		require.NoError(t, s.InsertRecord(ctx, rec))
	}

	all, err := s.SelectRecords(ctx, payroll.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, payroll.RecordID("rec-2025-01"), all[0].ID, "ordered by period")

	p := payroll.MustParsePeriod("2025-02")
	byPeriod, err := s.SelectRecords(ctx, payroll.RecordFilter{Period: &p})
	require.NoError(t, err)
	require.Len(t, byPeriod, 1)

	approved, err := s.SelectRecords(ctx, payroll.RecordFilter{Status: []payroll.RecordStatus{payroll.StatusApproved}})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, payroll.RecordID("rec-2025-03"), approved[0].ID)

	byIDs, err := s.SelectRecords(ctx, payroll.RecordFilter{IDs: []payroll.RecordID{"rec-2025-01", "rec-2025-03"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byIDs, 1)

	none, err := s.SelectRecords(ctx, payroll.RecordFilter{EmployeeID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// =============================================================================
// RATES
// =============================================================================

func TestRates_OpenEndedBracketRoundTrip(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()

	brackets, err := s.SelectBrackets(ctx, payroll.RateFilter{Country: "X"})
	require.NoError(t, err)
	require.Len(t, brackets, 3)

	// Ordered numerically by min, not lexically
	assert.Equal(t, payroll.BracketID("b1"), brackets[0].ID)
	assert.Equal(t, payroll.BracketID("b2"), brackets[1].ID)
	assert.Nil(t, brackets[2].MaxAmount)
	require.NotNil(t, brackets[0].MaxAmount)
	assert.True(t, d("15000").Equal(*brackets[0].MaxAmount))
	assert.True(t, eff.Equal(brackets[0].EffectiveDate))
}

func TestRates_FilterOnOrBefore(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()

	before := time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC)
	none, err := s.SelectBrackets(ctx, payroll.RateFilter{Country: "X", OnOrBefore: &before})
	require.NoError(t, err)
	assert.Empty(t, none)

	rates, err := s.SelectSocialSecurityRates(ctx, payroll.RateFilter{Country: "X", OnOrBefore: &now})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, d("7.5").Equal(rates[0].EmployeeRate))
}

func TestRates_BracketVersioning(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()

	b, err := s.GetBracket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)

	// Insert over an existing id is a conflict
	var ce *payroll.ConcurrencyError
	assert.True(t, errors.As(s.SaveBracket(ctx, b, 0), &ce))

	b.Rate = d("16")
	require.NoError(t, s.SaveBracket(ctx, b, 1))
	assert.True(t, errors.As(s.SaveBracket(ctx, b, 1), &ce))

	got, err := s.GetBracket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, d("16").Equal(got.Rate))

	require.NoError(t, s.DeleteBracket(ctx, "b1"))
	assert.ErrorIs(t, s.DeleteBracket(ctx, "b1"), payroll.ErrBracketNotFound)
	_, err = s.GetBracket(ctx, "b1")
	assert.ErrorIs(t, err, payroll.ErrBracketNotFound)
}

func TestRates_SocialSecurityNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetSocialSecurityRate(context.Background(), "missing")
	assert.ErrorIs(t, err, payroll.ErrRateNotFound)
	assert.ErrorIs(t, s.DeleteSocialSecurityRate(context.Background(), "missing"), payroll.ErrRateNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	// WHEN: A transaction deletes a bracket then fails
	err := s.WithTx(ctx, func(tx payroll.RateStore) error {
		require.NoError(t, tx.DeleteBracket(ctx, "b1"))
		_, err := tx.GetBracket(ctx, "b1")
		assert.ErrorIs(t, err, payroll.ErrBracketNotFound, "visible inside the tx")
		return boom
	})

	// THEN: The delete is undone
	assert.ErrorIs(t, err, boom)
	_, err = s.GetBracket(ctx, "b1")
	assert.NoError(t, err)
}

func TestWithTx_Commits(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx payroll.RateStore) error {
		return tx.DeleteSocialSecurityRate(ctx, "ss1")
	})
	require.NoError(t, err)

	rates, err := s.SelectSocialSecurityRates(ctx, payroll.RateFilter{})
	require.NoError(t, err)
	assert.Empty(t, rates)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_EndToEnd(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()

	rates := payroll.NewRateConfigStore(s)
	engine := payroll.NewEngine(s, rates, s, s)

	// GIVEN: A record created through the engine
	rec, err := engine.CreatePayrollRecord(ctx, payroll.DefaultSettings(), payroll.CompensationInput{
		EmployeeID:   "emp-1",
		Period:       "2025-03",
		Compensation: payroll.Compensation{BaseSalary: d("60000")},
	})
	require.NoError(t, err)
	assert.True(t, d("43500").Equal(rec.NetSalary))

	// WHEN: Approving and paying
	res, err := engine.Transition(ctx, payroll.ActionApprove, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []payroll.RecordID{rec.ID}, res.Succeeded)
	res, err = engine.Transition(ctx, payroll.ActionMarkPaid, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []payroll.RecordID{rec.ID}, res.Succeeded)

	// THEN: History records every step
	history, err := engine.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, payroll.AuditCreated, history[0].Action)
	assert.Equal(t, payroll.AuditPaid, history[2].Action)
	assert.Equal(t, payroll.StatusApproved, history[2].FromStatus)
}

// =============================================================================
// EMPLOYEES & SETTINGS
// =============================================================================

func TestEmployees(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Resolve(ctx, "emp-9")
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)

	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "emp-2", Name: "Bob", Country: "X"}))
	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "emp-1", Name: "Alice", Email: "a@example.com", Country: "Y"}))
	require.NoError(t, s.SaveEmployee(ctx, payroll.Employee{ID: "emp-2", Name: "Bob", Country: "Z"}))

	emp, err := s.Resolve(ctx, "emp-2")
	require.NoError(t, err)
	assert.Equal(t, "Z", emp.Country, "upsert")

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", list[0].Name)
	assert.Equal(t, "a@example.com", list[0].Email)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	settings := payroll.DefaultSettings()
	settings.AutoApproveOnEdit = true
	settings.RoundingPlaces = 0
	require.NoError(t, s.SaveSettings(ctx, settings))

	got, ok, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, settings, got)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	seedRates(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, sampleRecord()))

	require.NoError(t, s.Reset(ctx))

	records, err := s.SelectRecords(ctx, payroll.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	brackets, err := s.SelectBrackets(ctx, payroll.RateFilter{})
	require.NoError(t, err)
	assert.Empty(t, brackets)
}
