/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario imports rate tables, creates employees and
	runs payroll records through the engine exactly as the API would.

AVAILABLE SCENARIOS:

	country-x:          Reference tax table for country X and three employees
	reference-payroll:  country-x plus one record per reference case
	                    (bonus month, above SS cap, deductions over gross)
	rate-change:        Two country X tables; the same salary before and after

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import rate tables through factory.ParseRateFile + ImportTable
 3. Create employees
 4. Create records through the engine and transition some of them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "reference-payroll"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - factory/rates.go: Rate document format
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "country-x",
		Name:        "Country X",
		Description: "Progressive table 15/20/25% with 7.5% social security capped at 50000, three employees",
	},
	{
		ID:          "reference-payroll",
		Name:        "Reference Payroll",
		Description: "Bonus month, salary above the social-security cap, and deductions exceeding gross",
	},
	{
		ID:          "rate-change",
		Name:        "Mid-Year Rate Change",
		Description: "A new country X table from July; June and July payroll for the same salary",
	},
}

// CountryXRates is the reference table in the rate document format.
const CountryXRates = `
tables:
  - country: X
    effective_date: "2024-01-01"
    brackets:
      - {min: 0,     max: 15000, rate: 15}
      - {min: 15000, max: 30000, rate: 20}
      - {min: 30000,             rate: 25}
    social_security:
      employee_rate: 7.5
      employer_rate: 12
      max_base: 50000
`

const countryXJulyRates = `
tables:
  - country: X
    effective_date: "2025-07-01"
    brackets:
      - {min: 0,     max: 20000, rate: 15}
      - {min: 20000, max: 40000, rate: 22}
      - {min: 40000,             rate: 28}
    social_security:
      employee_rate: 8
      employer_rate: 12
      max_base: 55000
`

var demoEmployees = []payroll.Employee{
	{ID: "emp-1", Name: "Ada Lovelace", Email: "ada@example.com", Country: "X"},
	{ID: "emp-2", Name: "Grace Hopper", Email: "grace@example.com", Country: "X"},
	{ID: "emp-3", Name: "Alan Turing", Email: "alan@example.com", Country: "X"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(ctx context.Context, settings payroll.Settings) error
	switch req.ScenarioID {
	case "country-x":
		load = h.loadCountryX
	case "reference-payroll":
		load = h.loadReferencePayroll
	case "rate-change":
		load = h.loadRateChange
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}

	settings, err := h.currentSettings(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	if err := load(r.Context(), settings); err != nil {
		h.fail(w, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) importRates(ctx context.Context, doc string) error {
	inputs, err := factory.ParseRateFile([]byte(doc))
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if _, err := h.Rates.ImportTable(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCountryX(ctx context.Context, _ payroll.Settings) error {
	if err := h.importRates(ctx, CountryXRates); err != nil {
		return err
	}
	for _, emp := range demoEmployees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadReferencePayroll(ctx context.Context, settings payroll.Settings) error {
	if err := h.loadCountryX(ctx, settings); err != nil {
		return err
	}

	inputs := []payroll.CompensationInput{
		{EmployeeID: "emp-1", Period: "2025-01", Compensation: payroll.Compensation{
			BaseSalary: decimal.NewFromInt(15000), Bonuses: decimal.NewFromInt(1500),
		}},
		{EmployeeID: "emp-2", Period: "2025-01", Compensation: payroll.Compensation{
			BaseSalary: decimal.NewFromInt(60000),
		}},
		{EmployeeID: "emp-3", Period: "2025-01", Compensation: payroll.Compensation{
			BaseSalary: decimal.NewFromInt(2000), LeaveDeductions: decimal.NewFromInt(5000),
		}},
	}
	ids := make([]payroll.RecordID, 0, len(inputs))
	for _, in := range inputs {
		rec, err := h.Engine.CreatePayrollRecord(ctx, settings, in)
		if err != nil {
			return err
		}
		ids = append(ids, rec.ID)
	}

	// emp-1 and emp-2 approved, emp-2 already paid; emp-3 waits for review.
	if _, err := h.Engine.Transition(ctx, payroll.ActionApprove, ids[0], ids[1]); err != nil {
		return err
	}
	_, err := h.Engine.Transition(ctx, payroll.ActionMarkPaid, ids[1])
	return err
}

func (h *Handler) loadRateChange(ctx context.Context, settings payroll.Settings) error {
	if err := h.loadCountryX(ctx, settings); err != nil {
		return err
	}
	if err := h.importRates(ctx, countryXJulyRates); err != nil {
		return err
	}
	for _, period := range []string{"2025-06", "2025-07"} {
		_, err := h.Engine.CreatePayrollRecord(ctx, settings, payroll.CompensationInput{
			EmployeeID:   "emp-1",
			Period:       period,
			Compensation: payroll.Compensation{BaseSalary: decimal.NewFromInt(45000)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
