/*
handlers_test.go - HTTP tests for the payroll API

Tests for:
- Record creation and the reference calculations over HTTP
- Error mapping (400/404/409/422) and error bodies
- Single and bulk transitions
- Rate import/export/resolve and settings
- Metrics exposition
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

type testServer struct {
	h      *Handler
	router http.Handler
	ctx    context.Context
}

// setupTestServer wires a handler over an in-memory store loaded with the
// country-x scenario (rates effective 2024-01-01, employees emp-1..emp-3).
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rates := payroll.NewRateConfigStore(store)
	engine := payroll.NewEngine(store, rates, store, store)
	h := NewHandler(store, engine, payroll.DefaultSettings(), zap.NewNop())

	ctx := context.Background()
	require.NoError(t, h.loadCountryX(ctx, payroll.DefaultSettings()))
	return &testServer{h: h, router: NewRouter(h, RouterOptions{}), ctx: ctx}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createRecord(t *testing.T, emp, period string, comp map[string]any) PayrollRecordDTO {
	t.Helper()
	body := map[string]any{"employee_id": emp, "period": period}
	for k, v := range comp {
		body[k] = v
	}
	rec := ts.do(t, http.MethodPost, "/api/payroll", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PayrollRecordDTO](t, rec)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// CREATE & CALCULATE
// =============================================================================

func TestCreatePayroll_BaseAndBonus(t *testing.T) {
	ts := setupTestServer(t)

	// WHEN: Creating base 15000 + bonus 1500 (bonus sent as a JSON number)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "15000", "bonuses": 1500})

	// THEN
	assertMoney(t, "16500", dto.GrossSalary)
	assertMoney(t, "2550", dto.TaxAmount)
	assertMoney(t, "1237.50", dto.SocialSecurity)
	assertMoney(t, "12712.50", dto.NetSalary)
	assert.Equal(t, "pending", dto.Status)
	assert.Equal(t, "X", dto.Country)
	assert.Equal(t, "USD", dto.Currency)
	assert.Equal(t, "2024-01-01", dto.TaxTableDate)
	assert.True(t, dto.Calculated)
	assert.Equal(t, int64(1), dto.Version)
}

func TestCreatePayroll_MoneyIsSerializedAsString(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/payroll", map[string]any{
		"employee_id": "emp-2", "period": "2025-03", "base_salary": "60000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "43500", raw["net_salary"])
	assert.Equal(t, "3750", raw["social_security"])
}

func TestCreatePayroll_DeductionsExceedGross(t *testing.T) {
	ts := setupTestServer(t)

	dto := ts.createRecord(t, "emp-3", "2025-03", map[string]any{"base_salary": "2000", "leave_deductions": "5000"})

	assertMoney(t, "0", dto.NetSalary)
	assert.True(t, dto.InsufficientFundsWarning)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.h.Metrics.recordsCreated.WithLabelValues("true")))
}

func TestCreatePayroll_ErrorMapping(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.h.Store.SaveEmployee(ts.ctx, payroll.Employee{ID: "emp-z", Name: "Zed", Country: "Z"}))
	ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "1000"})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", "{", http.StatusBadRequest, ""},
		{"negative amount", map[string]any{"employee_id": "emp-1", "period": "2025-04", "base_salary": "-1"}, http.StatusBadRequest, payroll.CodeInvalidField},
		{"bad period", map[string]any{"employee_id": "emp-1", "period": "2025-4", "base_salary": "1"}, http.StatusBadRequest, payroll.CodeInvalidField},
		{"duplicate period", map[string]any{"employee_id": "emp-1", "period": "2025-03", "base_salary": "1"}, http.StatusBadRequest, payroll.CodeDuplicateRecord},
		{"unknown employee", map[string]any{"employee_id": "nobody", "period": "2025-03", "base_salary": "1"}, http.StatusUnprocessableEntity, payroll.CodeUnknownEmployee},
		{"no rate table", map[string]any{"employee_id": "emp-z", "period": "2025-03", "base_salary": "1"}, http.StatusUnprocessableEntity, payroll.CodeNoRateTable},
		{"before first table", map[string]any{"employee_id": "emp-2", "period": "2023-12", "base_salary": "1"}, http.StatusUnprocessableEntity, payroll.CodeNoRateTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/payroll", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// =============================================================================
// EDIT & RECALCULATE
// =============================================================================

func TestUpdatePayroll_VersionConflict(t *testing.T) {
	ts := setupTestServer(t)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})

	// WHEN: Editing with the version just read
	rec := ts.do(t, http.MethodPut, "/api/payroll/"+dto.ID, map[string]any{"version": dto.Version, "base_salary": "20000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[PayrollRecordDTO](t, rec)
	assertMoney(t, "20000", updated.GrossSalary)
	assert.Equal(t, int64(2), updated.Version)

	// WHEN: Editing again with the stale version
	rec = ts.do(t, http.MethodPut, "/api/payroll/"+dto.ID, map[string]any{"version": dto.Version, "base_salary": "30000"})

	// THEN: 409 and nothing changed
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, payroll.CodeConcurrent, decode[ErrorResponse](t, rec).Code)
	got := decode[PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll/"+dto.ID, nil))
	assertMoney(t, "20000", got.GrossSalary)
}

func TestUpdatePayroll_VersionRequired(t *testing.T) {
	ts := setupTestServer(t)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})

	// WHEN: Editing without a version
	rec := ts.do(t, http.MethodPut, "/api/payroll/"+dto.ID, map[string]any{"base_salary": "30000"})

	// THEN: 400 naming the field, record untouched
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, payroll.CodeInvalidField, resp.Code)
	assert.Equal(t, "version", resp.Field)
	got := decode[PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll/"+dto.ID, nil))
	assertMoney(t, "10000", got.GrossSalary)
	assert.Equal(t, int64(1), got.Version)
}

func TestRecalculate_PicksUpNewRates(t *testing.T) {
	ts := setupTestServer(t)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})

	// Recalculating with unchanged rates is a no-op
	rec := ts.do(t, http.MethodPost, "/api/payroll/"+dto.ID+"/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[PayrollRecordDTO](t, rec).Version)

	// GIVEN: A new table effective 2025-01-01 taxing the first slice at 10%
	doc := `
tables:
  - country: X
    effective_date: "2025-01-01"
    brackets:
      - {min: 0, max: 15000, rate: 10}
      - {min: 15000, rate: 20}
    social_security: {employee_rate: 7.5, employer_rate: 12, max_base: 50000}
`
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/rates/import", doc).Code)

	// WHEN
	rec = ts.do(t, http.MethodPost, "/api/payroll/"+dto.ID+"/recalculate", map[string]any{"version": 1})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[PayrollRecordDTO](t, rec)
	assertMoney(t, "1000", updated.TaxAmount)
	assert.Equal(t, "2025-01-01", updated.TaxTableDate)
	assert.Equal(t, int64(2), updated.Version)
}

func TestGetPayroll_NotFound(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/payroll/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, payroll.CodeNotFound, decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestSingleTransitions(t *testing.T) {
	ts := setupTestServer(t)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})
	path := "/api/payroll/" + dto.ID

	// Paying a pending record is refused
	rec := ts.do(t, http.MethodPost, path+"/pay", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, payroll.CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode[PayrollRecordDTO](t, rec).Status)

	rec = ts.do(t, http.MethodPost, path+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[PayrollRecordDTO](t, rec)
	assert.Equal(t, "paid", paid.Status)
	assert.NotNil(t, paid.PaymentDate)

	// Paid records are locked
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, path+"/cancel", nil).Code)
	rec = ts.do(t, http.MethodPut, path, map[string]any{"version": paid.Version, "base_salary": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, payroll.CodeRecordLocked, decode[ErrorResponse](t, rec).Code)

	// Re-paying is idempotent
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path+"/pay", nil).Code)

	// History has every step
	rec = ts.do(t, http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, "created", history[0].Action)
	assert.Equal(t, "approved", history[1].Action)
	assert.Equal(t, "paid", history[2].Action)
}

func TestDeletePayroll_Idempotent(t *testing.T) {
	ts := setupTestServer(t)
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/payroll/"+dto.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/payroll/"+dto.ID, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/payroll/"+dto.ID, nil).Code)
}

func TestBulkTransition_ApproveSkipsPaid(t *testing.T) {
	ts := setupTestServer(t)

	// GIVEN: Three records, one already paid
	a := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})
	b := ts.createRecord(t, "emp-2", "2025-03", map[string]any{"base_salary": "20000"})
	c := ts.createRecord(t, "emp-3", "2025-03", map[string]any{"base_salary": "30000"})
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/payroll/"+c.ID+"/approve", nil).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/payroll/"+c.ID+"/pay", nil).Code)

	// WHEN: Bulk approving all three
	rec := ts.do(t, http.MethodPost, "/api/payroll/transition", TransitionRequest{Action: "approve", IDs: []string{a.ID, b.ID, c.ID}})

	// THEN: Two succeed, the paid one is skipped
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[BulkResultDTO](t, rec)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, res.Succeeded)
	assert.Equal(t, []string{c.ID}, res.Skipped)
	assert.Empty(t, res.Failed)

	// Re-running reports everything as skipped
	res = decode[BulkResultDTO](t, ts.do(t, http.MethodPost, "/api/payroll/transition", TransitionRequest{Action: "approve", IDs: []string{a.ID, b.ID, c.ID}}))
	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Skipped, 3)

	// One single approve plus two bulk approves
	assert.Equal(t, float64(3), testutil.ToFloat64(ts.h.Metrics.transitions.WithLabelValues("approve", "succeeded")))
	assert.Equal(t, float64(4), testutil.ToFloat64(ts.h.Metrics.transitions.WithLabelValues("approve", "skipped")))
}

func TestBulkTransition_ReportsFailures(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})

	rec := ts.do(t, http.MethodPost, "/api/payroll/transition", TransitionRequest{Action: "mark_paid", IDs: []string{a.ID, "ghost"}})

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[BulkResultDTO](t, rec)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, payroll.CodeInvalidTransition, res.Failed[0].Reason)
	assert.Equal(t, payroll.CodeNotFound, res.Failed[1].Reason)
}

func TestBulkTransition_UnknownAction(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/payroll/transition", TransitionRequest{Action: "archive", IDs: []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPayroll_Filters(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})
	ts.createRecord(t, "emp-1", "2025-04", map[string]any{"base_salary": "10000"})
	ts.createRecord(t, "emp-2", "2025-03", map[string]any{"base_salary": "10000"})
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/payroll/"+a.ID+"/approve", nil).Code)

	assert.Len(t, decode[[]PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll", nil)), 3)
	assert.Len(t, decode[[]PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll?employee_id=emp-1", nil)), 2)
	assert.Len(t, decode[[]PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll?period=2025-03", nil)), 2)
	approved := decode[[]PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll?status=approved", nil))
	require.Len(t, approved, 1)
	assert.Equal(t, a.ID, approved[0].ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/payroll?status=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/payroll?period=March", nil).Code)
}

// =============================================================================
// RATES
// =============================================================================

func TestCreateBracket_OverlapReturnsConflicts(t *testing.T) {
	ts := setupTestServer(t)

	// WHEN: Adding [10000, 20000) to the 2024-01-01 country X table
	rec := ts.do(t, http.MethodPost, "/api/rates/brackets", map[string]any{
		"country": "X", "min_amount": "10000", "max_amount": "20000", "rate": "18", "effective_date": "2024-01-01",
	})

	// THEN: Rejected with both conflicting brackets named
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, payroll.CodeBracketOverlap, resp.Code)
	require.Len(t, resp.Conflicts, 2)
	assert.Equal(t, "[0,15000)", resp.Conflicts[0].Range)
	assert.Equal(t, "[15000,30000)", resp.Conflicts[1].Range)

	brackets := decode[[]BracketDTO](t, ts.do(t, http.MethodGet, "/api/rates/brackets?country=X", nil))
	assert.Len(t, brackets, 3, "store unchanged")
}

func TestBracketCRUD(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/rates/brackets", map[string]any{
		"country": "y", "min_amount": "0", "rate": "10", "effective_date": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[BracketDTO](t, rec)
	assert.Equal(t, "Y", b.Country)
	assert.Nil(t, b.MaxAmount)

	rec = ts.do(t, http.MethodPut, "/api/rates/brackets/"+b.ID, map[string]any{
		"country": "Y", "min_amount": "0", "rate": "12", "effective_date": "2025-01-01", "version": b.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertMoney(t, "12", decode[BracketDTO](t, rec).Rate)

	// Stale version
	rec = ts.do(t, http.MethodPut, "/api/rates/brackets/"+b.ID, map[string]any{
		"country": "Y", "min_amount": "0", "rate": "13", "effective_date": "2025-01-01", "version": b.Version,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, "/api/rates/brackets/missing", map[string]any{
		"country": "Y", "min_amount": "0", "rate": "13", "effective_date": "2025-01-01",
	}).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/rates/brackets/"+b.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/rates/brackets/"+b.ID, nil).Code)
}

func TestSocialSecurityRates(t *testing.T) {
	ts := setupTestServer(t)

	// Duplicate country/date is rejected
	rec := ts.do(t, http.MethodPost, "/api/rates/social-security", map[string]any{
		"country": "X", "employee_rate": "8", "employer_rate": "12", "max_base": "50000", "effective_date": "2024-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, payroll.CodeDuplicateRate, decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/rates/social-security", map[string]any{
		"country": "X", "employee_rate": "101", "employer_rate": "12", "max_base": "50000", "effective_date": "2026-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rates := decode[[]SocialSecurityDTO](t, ts.do(t, http.MethodGet, "/api/rates/social-security?country=X", nil))
	require.Len(t, rates, 1)
	assertMoney(t, "7.5", rates[0].EmployeeRate)
}

func TestResolveRates(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/rates/resolve?country=x&period=2025-06", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	table := decode[RateTableDTO](t, rec)
	assert.Equal(t, "2024-01-01", table.EffectiveDate)
	assert.Len(t, table.Brackets, 3)
	require.NotNil(t, table.SocialSecurity)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodGet, "/api/rates/resolve?country=Q&period=2025-06", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/rates/resolve?country=X", nil).Code)
}

func TestImportRates_InvalidDocumentWritesNothing(t *testing.T) {
	ts := setupTestServer(t)
	doc := `
tables:
  - country: X
    effective_date: "2024-01-01"
    brackets:
      - {min: 0, max: 1000, rate: 5}
      - {min: 2000, rate: 10}
`
	rec := ts.do(t, http.MethodPost, "/api/rates/import", doc)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, payroll.CodeInvalidTable, decode[ErrorResponse](t, rec).Code)
	brackets := decode[[]BracketDTO](t, ts.do(t, http.MethodGet, "/api/rates/brackets?country=X", nil))
	assert.Len(t, brackets, 3)
}

func TestExportRates(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/rates/export?country=X", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "country: X")
	assert.Contains(t, body, "effective_date: \"2024-01-01\"")
	assert.Contains(t, body, "max_base: 50000")

	// The export re-imports cleanly
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/rates/import", body).Code)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings(t *testing.T) {
	ts := setupTestServer(t)

	got := decode[SettingsDTO](t, ts.do(t, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, "USD", got.DefaultCurrency)
	assert.True(t, got.AutoCalculate)

	rec := ts.do(t, http.MethodPut, "/api/settings", SettingsDTO{DefaultCurrency: "EURO", PayFrequency: "monthly", TaxPolicy: "progressive", RoundingPlaces: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: Turning automatic calculation off
	rec = ts.do(t, http.MethodPut, "/api/settings", SettingsDTO{DefaultCurrency: "eur", PayFrequency: "monthly", TaxPolicy: "progressive", RoundingPlaces: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "EUR", decode[SettingsDTO](t, rec).DefaultCurrency)

	// THEN: New records are stored uncalculated in the new currency
	dto := ts.createRecord(t, "emp-1", "2025-03", map[string]any{"base_salary": "10000"})
	assert.False(t, dto.Calculated)
	assert.Equal(t, "EUR", dto.Currency)

	// and cannot be approved until calculated
	rec = ts.do(t, http.MethodPost, "/api/payroll/"+dto.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, payroll.CodeNotCalculated, decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// METRICS & MIDDLEWARE
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.do(t, http.MethodGet, "/api/employees", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "payroll_http_requests_total")
	assert.Contains(t, body, `status="200"`)
	assert.Contains(t, body, "payroll_http_request_duration_seconds")
}

func TestErrorsAreJSON(t *testing.T) {
	ts := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/payroll/none", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()

	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}

func TestCORS_Preflight(t *testing.T) {
	ts := setupTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/payroll", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

// =============================================================================
// PAY-RUN SCHEDULER
// =============================================================================

func TestPayRun_PaysClosedPeriodsOnly(t *testing.T) {
	ts := setupTestServer(t)
	closed := ts.createRecord(t, "emp-1", "2025-01", map[string]any{"base_salary": "10000"})
	open := ts.createRecord(t, "emp-2", "2025-02", map[string]any{"base_salary": "10000"})
	pending := ts.createRecord(t, "emp-3", "2025-01", map[string]any{"base_salary": "10000"})
	res := decode[BulkResultDTO](t, ts.do(t, http.MethodPost, "/api/payroll/transition", TransitionRequest{Action: "approve", IDs: []string{closed.ID, open.ID}}))
	require.Len(t, res.Succeeded, 2)

	// GIVEN: It is February 10th
	ts.h.PayRun.Clock = func() time.Time { return time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC) }

	// WHEN
	run, err := ts.h.PayRun.RunOnce(ts.ctx)

	// THEN: Only the approved January record is paid
	require.NoError(t, err)
	assert.Equal(t, 2, run.Checked)
	assert.Equal(t, []payroll.RecordID{payroll.RecordID(closed.ID)}, run.Result.Succeeded)

	got := decode[PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll/"+closed.ID, nil))
	assert.Equal(t, "paid", got.Status)
	got = decode[PayrollRecordDTO](t, ts.do(t, http.MethodGet, "/api/payroll/"+pending.ID, nil))
	assert.Equal(t, "pending", got.Status)

	// A second pass has nothing left to pay
	run, err = ts.h.PayRun.RunOnce(ts.ctx)
	require.NoError(t, err)
	assert.Empty(t, run.Result.Succeeded)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.h.Metrics.payRunPaid))
}

func TestPayRun_Endpoint(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/payroll/payrun", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mark_paid", decode[PayRunDTO](t, rec).Result.Action)
}

func TestPayRunScheduler_StartStop(t *testing.T) {
	ts := setupTestServer(t)
	s := ts.h.PayRun
	s.CheckInterval = time.Hour

	// Disabled: Start is a no-op
	s.Start()
	s.Stop()

	s.Enabled = true
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
