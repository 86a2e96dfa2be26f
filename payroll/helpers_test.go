package payroll_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got.String())}, msgAndArgs...)...)
}

var testNow = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// sequentialIDs returns "<prefix>-1", "<prefix>-2", ...
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// countryX is the reference table: [0,15000)@15 [15000,30000)@20 [30000,∞)@25,
// social security 7.5% employee / 12% employer capped at 50000.
func countryXBrackets() []payroll.TaxBracket {
	eff := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return []payroll.TaxBracket{
		{ID: "b1", Country: "X", MinAmount: d("0"), MaxAmount: dp("15000"), Rate: d("15"), EffectiveDate: eff},
		{ID: "b2", Country: "X", MinAmount: d("15000"), MaxAmount: dp("30000"), Rate: d("20"), EffectiveDate: eff},
		{ID: "b3", Country: "X", MinAmount: d("30000"), Rate: d("25"), EffectiveDate: eff},
	}
}

func countryXSocialSecurity() payroll.SocialSecurityRate {
	return payroll.SocialSecurityRate{
		ID:            "ss1",
		Country:       "X",
		EmployeeRate:  d("7.5"),
		EmployerRate:  d("12"),
		MaxBase:       d("50000"),
		EffectiveDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func countryXTable() payroll.RateTable {
	return payroll.RateTable{
		Country:        "X",
		EffectiveDate:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Brackets:       countryXBrackets(),
		SocialSecurity: countryXSocialSecurity(),
	}
}

func countryXImport(effective string) payroll.RateTableInput {
	return payroll.RateTableInput{
		Country:       "X",
		EffectiveDate: effective,
		Brackets: []payroll.BracketInput{
			{MinAmount: d("0"), MaxAmount: dp("15000"), Rate: d("15")},
			{MinAmount: d("15000"), MaxAmount: dp("30000"), Rate: d("20")},
			{MinAmount: d("30000"), Rate: d("25")},
		},
		SocialSecurity: &payroll.SocialSecurityInput{
			EmployeeRate: d("7.5"),
			EmployerRate: d("12"),
			MaxBase:      d("50000"),
		},
	}
}

type testEnv struct {
	engine *payroll.Engine
	rates  *payroll.RateConfigStore
	mem    *store.Memory
	ctx    context.Context
}

// newTestEngine wires an engine over a memory store seeded with country X
// rates (effective 2024-01-01) and employees emp-1..emp-3 in X.
func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	rates := payroll.NewRateConfigStore(mem,
		payroll.WithClock(fixedClock),
		payroll.WithIDGenerator(sequentialIDs("rate")))
	_, err := rates.ImportTable(ctx, countryXImport("2024-01-01"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, mem.SaveEmployee(ctx, payroll.Employee{
			ID:      payroll.EmployeeID(fmt.Sprintf("emp-%d", i)),
			Name:    fmt.Sprintf("Employee %d", i),
			Country: "X",
		}))
	}

	engine := payroll.NewEngine(mem, rates, mem, mem,
		payroll.WithClock(fixedClock),
		payroll.WithIDGenerator(sequentialIDs("rec")))
	return &testEnv{engine: engine, rates: rates, mem: mem, ctx: ctx}
}

func comp(base string) payroll.Compensation {
	return payroll.Compensation{BaseSalary: d(base)}
}

func (env *testEnv) create(t *testing.T, emp string, period string, c payroll.Compensation) payroll.PayrollRecord {
	t.Helper()
	rec, err := env.engine.CreatePayrollRecord(env.ctx, payroll.DefaultSettings(), payroll.CompensationInput{
		EmployeeID:   payroll.EmployeeID(emp),
		Period:       period,
		Compensation: c,
	})
	require.NoError(t, err)
	return rec
}
