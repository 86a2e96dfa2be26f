/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the payroll package.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List employees
    POST   /api/employees                     Create or update employee
    GET    /api/employees/{id}                Get employee

  Rates:
    GET    /api/rates/brackets                List brackets (?country=&effective_date=)
    POST   /api/rates/brackets                Add bracket
    PUT    /api/rates/brackets/{id}           Update bracket (body carries version)
    DELETE /api/rates/brackets/{id}           Delete bracket
    GET    /api/rates/social-security         List social-security rates
    POST   /api/rates/social-security         Add rate
    PUT    /api/rates/social-security/{id}    Update rate
    DELETE /api/rates/social-security/{id}    Delete rate
    POST   /api/rates/import                  Import YAML/JSON rate document
    GET    /api/rates/export                  Export tables as YAML (?country=)
    GET    /api/rates/resolve                 Preview table in effect (?country=&period=)

  Settings:
    GET    /api/settings                      Current payroll settings
    PUT    /api/settings                      Replace payroll settings

  Payroll:
    GET    /api/payroll                       List (?employee_id=&period=&status=&limit=)
    POST   /api/payroll                       Create and calculate
    GET    /api/payroll/{id}                  Get record
    PUT    /api/payroll/{id}                  Edit inputs (recalculates)
    DELETE /api/payroll/{id}                  Delete record
    POST   /api/payroll/{id}/recalculate      Recalculate against current rates
    POST   /api/payroll/{id}/approve          pending -> approved
    POST   /api/payroll/{id}/pay              approved -> paid
    POST   /api/payroll/{id}/cancel           -> cancelled
    GET    /api/payroll/{id}/history          Audit trail
    POST   /api/payroll/transition            Bulk {action, ids}
    POST   /api/payroll/payrun                Run the pay-run once

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ValidationError (code, field and conflicting brackets included)
  - 404: Resource not found
  - 409: Stale version, or a transition the record's state does not allow
  - 422: CalculationError (no rate table, unknown employee)
  - 500: Persistence and internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Engine  *payroll.Engine
	Rates   *payroll.RateConfigStore
	PayRun  *PayRunScheduler
	Logger  *zap.Logger
	Metrics *Metrics

	// Defaults apply until settings are stored.
	Defaults payroll.Settings

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the store and the engine built on it.
func NewHandler(store *sqlite.Store, engine *payroll.Engine, defaults payroll.Settings, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics()
	return &Handler{
		Store:    store,
		Engine:   engine,
		Rates:    engine.Rates(),
		PayRun:   NewPayRunScheduler(engine, logger, metrics),
		Logger:   logger.Named("api"),
		Metrics:  metrics,
		Defaults: defaults,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns one employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.Resolve(r.Context(), payroll.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee creates or updates an employee. The country decides which
// rate table applies to the employee's payroll.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.Country == "" {
		writeError(w, http.StatusBadRequest, "country is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	emp := payroll.Employee{ID: payroll.EmployeeID(req.ID), Name: req.Name, Email: req.Email, Country: req.Country}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

func rateFilterFrom(r *http.Request) (payroll.RateFilter, error) {
	filter := payroll.RateFilter{Country: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))}
	if s := r.URL.Query().Get("effective_date"); s != "" {
		date, err := payroll.ParseDate(s)
		if err != nil {
			return filter, err
		}
		filter.EffectiveDate = &date
	}
	return filter, nil
}

// ListBrackets returns brackets ordered by country, effective date and min.
func (h *Handler) ListBrackets(w http.ResponseWriter, r *http.Request) {
	filter, err := rateFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}
	brackets, err := h.Rates.ListBrackets(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]BracketDTO, len(brackets))
	for i, b := range brackets {
		dtos[i] = toBracketDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBracket adds a bracket. Overlaps with the same table are rejected
// with the conflicting brackets in the response.
func (h *Handler) CreateBracket(w http.ResponseWriter, r *http.Request) {
	var req BracketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	b, err := h.Rates.AddOrUpdateBracket(r.Context(), req.input(""))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBracketDTO(b))
}

// UpdateBracket replaces a bracket. The body must carry the version last read.
func (h *Handler) UpdateBracket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req BracketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := h.Rates.GetBracket(r.Context(), payroll.BracketID(id)); err != nil {
		h.fail(w, err)
		return
	}
	b, err := h.Rates.AddOrUpdateBracket(r.Context(), req.input(id))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBracketDTO(b))
}

func (h *Handler) DeleteBracket(w http.ResponseWriter, r *http.Request) {
	if err := h.Rates.DeleteBracket(r.Context(), payroll.BracketID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSocialSecurityRates(w http.ResponseWriter, r *http.Request) {
	filter, err := rateFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}
	rates, err := h.Rates.ListSocialSecurityRates(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]SocialSecurityDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = toSocialSecurityDTO(rate)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSocialSecurityRate(w http.ResponseWriter, r *http.Request) {
	var req SocialSecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := h.Rates.AddOrUpdateSocialSecurityRate(r.Context(), req.input(""))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSocialSecurityDTO(rate))
}

func (h *Handler) UpdateSocialSecurityRate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SocialSecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := h.Rates.GetSocialSecurityRate(r.Context(), payroll.RateID(id)); err != nil {
		h.fail(w, err)
		return
	}
	rate, err := h.Rates.AddOrUpdateSocialSecurityRate(r.Context(), req.input(id))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSocialSecurityDTO(rate))
}

func (h *Handler) DeleteSocialSecurityRate(w http.ResponseWriter, r *http.Request) {
	if err := h.Rates.DeleteSocialSecurityRate(r.Context(), payroll.RateID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportRates imports a rate document (YAML or JSON body). Each table is
// replaced atomically; the first failing table stops the import and the
// tables before it stay imported.
func (h *Handler) ImportRates(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	inputs, err := factory.ParseRateFile(body)
	if err != nil {
		h.fail(w, err)
		return
	}

	result := ImportResultDTO{Tables: make([]RateTableDTO, 0, len(inputs))}
	for _, in := range inputs {
		table, err := h.Rates.ImportTable(r.Context(), in)
		if err != nil {
			h.fail(w, err)
			return
		}
		result.Tables = append(result.Tables, toRateTableDTO(table))
	}
	writeJSON(w, http.StatusOK, result)
}

// ExportRates renders every stored table (optionally one country) in the
// import format.
func (h *Handler) ExportRates(w http.ResponseWriter, r *http.Request) {
	filter, err := rateFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}
	tables, err := collectTables(r, h.Rates, filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := factory.RenderRateFile(tables)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// collectTables groups stored rows into tables by (country, effective date).
func collectTables(r *http.Request, rates *payroll.RateConfigStore, filter payroll.RateFilter) ([]payroll.RateTable, error) {
	brackets, err := rates.ListBrackets(r.Context(), filter)
	if err != nil {
		return nil, err
	}
	ssRates, err := rates.ListSocialSecurityRates(r.Context(), filter)
	if err != nil {
		return nil, err
	}

	key := func(country string, date string) string { return country + "|" + date }
	ss := make(map[string]payroll.SocialSecurityRate, len(ssRates))
	for _, rate := range ssRates {
		ss[key(rate.Country, rate.EffectiveDate.Format(payroll.DateLayout))] = rate
	}

	var tables []payroll.RateTable
	index := make(map[string]int)
	for _, b := range brackets {
		k := key(b.Country, b.EffectiveDate.Format(payroll.DateLayout))
		i, ok := index[k]
		if !ok {
			i = len(tables)
			index[k] = i
			tables = append(tables, payroll.RateTable{Country: b.Country, EffectiveDate: b.EffectiveDate, SocialSecurity: ss[k]})
		}
		tables[i].Brackets = append(tables[i].Brackets, b)
	}
	return tables, nil
}

// ResolveRates previews the table that a calculation for country and
// period would use.
func (h *Handler) ResolveRates(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		writeError(w, http.StatusBadRequest, "country is required", nil)
		return
	}
	period, err := payroll.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	table, err := h.Rates.Resolve(r.Context(), country, period)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateTableDTO(table))
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// currentSettings returns the stored settings, or Defaults if none are stored.
func (h *Handler) currentSettings(r *http.Request) (payroll.Settings, error) {
	settings, ok, err := h.Store.LoadSettings(r.Context())
	if err != nil {
		return payroll.Settings{}, err
	}
	if !ok {
		return h.Defaults, nil
	}
	return settings, nil
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.currentSettings(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	settings := req.settings()
	settings.DefaultCurrency = strings.ToUpper(settings.DefaultCurrency)
	if err := settings.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("settings updated", zap.Stringer("settings", settings))
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// ListPayroll returns records matching the query filters.
func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payroll.RecordFilter{EmployeeID: payroll.EmployeeID(q.Get("employee_id"))}
	if s := q.Get("period"); s != "" {
		period, err := payroll.ParsePeriod(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		filter.Period = &period
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			status := payroll.RecordStatus(strings.TrimSpace(part))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", part), nil)
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	records, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]PayrollRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toPayrollRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayroll calculates and stores a record under the current settings.
func (h *Handler) CreatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CreatePayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	settings, err := h.currentSettings(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	rec, err := h.Engine.CreatePayrollRecord(r.Context(), settings, payroll.CompensationInput{
		EmployeeID:   payroll.EmployeeID(req.EmployeeID),
		Period:       req.Period,
		Currency:     req.Currency,
		Compensation: req.compensation(),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Metrics.observeCreated(rec)
	writeJSON(w, http.StatusCreated, toPayrollRecordDTO(rec))
}

func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Get(r.Context(), payroll.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRecordDTO(rec))
}

// UpdatePayroll replaces the record's inputs and recalculates it. The body
// must carry the version last read; without it the edit is rejected.
func (h *Handler) UpdatePayroll(w http.ResponseWriter, r *http.Request) {
	var req UpdatePayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.recalculate(w, r, payroll.RecalculateInput{
		Inputs:          &payroll.CompensationUpdate{Currency: req.Currency, Compensation: req.compensation()},
		ExpectedVersion: req.Version,
	})
}

// RecalculatePayroll recomputes a record against the rates in effect now.
// The body is optional.
func (h *Handler) RecalculatePayroll(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	h.recalculate(w, r, payroll.RecalculateInput{ExpectedVersion: req.Version})
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request, in payroll.RecalculateInput) {
	settings, err := h.currentSettings(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.Engine.Recalculate(r.Context(), settings, payroll.RecordID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRecordDTO(rec))
}

func (h *Handler) ApprovePayroll(w http.ResponseWriter, r *http.Request) {
	h.transitionOne(w, r, payroll.ActionApprove)
}

func (h *Handler) PayPayroll(w http.ResponseWriter, r *http.Request) {
	h.transitionOne(w, r, payroll.ActionMarkPaid)
}

func (h *Handler) CancelPayroll(w http.ResponseWriter, r *http.Request) {
	h.transitionOne(w, r, payroll.ActionCancel)
}

func (h *Handler) DeletePayroll(w http.ResponseWriter, r *http.Request) {
	h.transitionOne(w, r, payroll.ActionDelete)
}

// transitionOne runs a single-record transition and answers with the
// record's resulting state. A record already in the target state is
// answered like a success.
func (h *Handler) transitionOne(w http.ResponseWriter, r *http.Request, action payroll.Action) {
	id := payroll.RecordID(chi.URLParam(r, "id"))
	res, err := h.Engine.Transition(r.Context(), action, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Metrics.observeTransition(res)

	if len(res.Failed) > 0 {
		f := res.Failed[0]
		writeJSON(w, statusForReason(f.Reason), ErrorResponse{Error: f.Message, Code: f.Reason})
		return
	}
	if action == payroll.ActionDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	rec, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRecordDTO(rec))
}

// BulkTransition applies one action to many records. Per-record failures
// are reported in the body; the response is 200 unless the action is unknown.
func (h *Handler) BulkTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ids := make([]payroll.RecordID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = payroll.RecordID(id)
	}

	res, err := h.Engine.Transition(r.Context(), payroll.Action(req.Action), ids...)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Metrics.observeTransition(res)
	h.Logger.Info("bulk transition",
		zap.String("action", req.Action),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Failed)))
	writeJSON(w, http.StatusOK, toBulkResultDTO(res))
}

// PayrollHistory returns the audit trail of a record, oldest first.
func (h *Handler) PayrollHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.History(r.Context(), payroll.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunPayRun marks approved records of closed periods paid, once.
func (h *Handler) RunPayRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.PayRun.RunOnce(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PayRunDTO{RanAt: run.RanAt, Checked: run.Checked, Result: toBulkResultDTO(run.Result)})
}

// ResetDatabase clears all data (for testing/demo).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a payroll error to its HTTP status and body.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: payroll.ReasonCode(err)}

	var verr *payroll.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Message
		resp.Field = verr.Field
		for _, c := range verr.Conflicts {
			resp.Conflicts = append(resp.Conflicts, toBracketDTO(c))
		}
		if verr.ConflictRate != nil {
			resp.Details = fmt.Sprintf("conflicts with social security rate %s", verr.ConflictRate.ID)
		}
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.Error(err))
		resp.Error = "internal error"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrValidation):
		return http.StatusBadRequest
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrCalculation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// statusForReason maps a BulkFailure reason for single-record endpoints.
func statusForReason(reason string) int {
	switch reason {
	case payroll.CodeNotFound:
		return http.StatusNotFound
	case payroll.CodeConcurrent, payroll.CodeInvalidTransition, payroll.CodeNotCalculated:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
