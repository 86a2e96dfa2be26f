/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal. They serialize as JSON strings ("12712.5")
  so no client ever parses money as a float. Requests accept either a
  string or a number.

TYPES:
  Employees:   EmployeeDTO, CreateEmployeeRequest
  Rates:       BracketDTO, BracketRequest, SocialSecurityDTO,
               SocialSecurityRequest, RateTableDTO, ImportResultDTO
  Settings:    SettingsDTO
  Payroll:     PayrollRecordDTO, CreatePayrollRequest, UpdatePayrollRequest,
               TransitionRequest, BulkResultDTO, AuditEntryDTO
  Scenarios:   ScenarioDTO, LoadScenarioRequest
  Errors:      ErrorResponse

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Country string `json:"country"`
}

type CreateEmployeeRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Country string `json:"country"`
}

func toEmployeeDTO(e payroll.Employee) EmployeeDTO {
	return EmployeeDTO{ID: string(e.ID), Name: e.Name, Email: e.Email, Country: e.Country}
}

// =============================================================================
// RATES
// =============================================================================

type BracketDTO struct {
	ID            string           `json:"id"`
	Country       string           `json:"country"`
	MinAmount     decimal.Decimal  `json:"min_amount"`
	MaxAmount     *decimal.Decimal `json:"max_amount"`
	Rate          decimal.Decimal  `json:"rate"`
	Range         string           `json:"range"`
	EffectiveDate string           `json:"effective_date"`
	Version       int64            `json:"version"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// BracketRequest creates a bracket (POST) or updates one (PUT with version).
type BracketRequest struct {
	Country       string           `json:"country"`
	MinAmount     decimal.Decimal  `json:"min_amount"`
	MaxAmount     *decimal.Decimal `json:"max_amount"`
	Rate          decimal.Decimal  `json:"rate"`
	EffectiveDate string           `json:"effective_date"`
	Version       int64            `json:"version"`
}

func (req BracketRequest) input(id string) payroll.BracketInput {
	return payroll.BracketInput{
		ID:            payroll.BracketID(id),
		Country:       req.Country,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
		Rate:          req.Rate,
		EffectiveDate: req.EffectiveDate,
		Version:       req.Version,
	}
}

func toBracketDTO(b payroll.TaxBracket) BracketDTO {
	return BracketDTO{
		ID:            string(b.ID),
		Country:       b.Country,
		MinAmount:     b.MinAmount,
		MaxAmount:     b.MaxAmount,
		Rate:          b.Rate,
		Range:         b.Range(),
		EffectiveDate: b.EffectiveDate.Format(payroll.DateLayout),
		Version:       b.Version,
		UpdatedAt:     b.UpdatedAt,
	}
}

type SocialSecurityDTO struct {
	ID            string          `json:"id"`
	Country       string          `json:"country"`
	EmployeeRate  decimal.Decimal `json:"employee_rate"`
	EmployerRate  decimal.Decimal `json:"employer_rate"`
	MaxBase       decimal.Decimal `json:"max_base"`
	EffectiveDate string          `json:"effective_date"`
	Version       int64           `json:"version"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type SocialSecurityRequest struct {
	Country       string          `json:"country"`
	EmployeeRate  decimal.Decimal `json:"employee_rate"`
	EmployerRate  decimal.Decimal `json:"employer_rate"`
	MaxBase       decimal.Decimal `json:"max_base"`
	EffectiveDate string          `json:"effective_date"`
	Version       int64           `json:"version"`
}

func (req SocialSecurityRequest) input(id string) payroll.SocialSecurityInput {
	return payroll.SocialSecurityInput{
		ID:            payroll.RateID(id),
		Country:       req.Country,
		EmployeeRate:  req.EmployeeRate,
		EmployerRate:  req.EmployerRate,
		MaxBase:       req.MaxBase,
		EffectiveDate: req.EffectiveDate,
		Version:       req.Version,
	}
}

func toSocialSecurityDTO(r payroll.SocialSecurityRate) SocialSecurityDTO {
	return SocialSecurityDTO{
		ID:            string(r.ID),
		Country:       r.Country,
		EmployeeRate:  r.EmployeeRate,
		EmployerRate:  r.EmployerRate,
		MaxBase:       r.MaxBase,
		EffectiveDate: r.EffectiveDate.Format(payroll.DateLayout),
		Version:       r.Version,
		UpdatedAt:     r.UpdatedAt,
	}
}

// RateTableDTO is a resolved or imported table.
type RateTableDTO struct {
	Country        string             `json:"country"`
	EffectiveDate  string             `json:"effective_date"`
	Brackets       []BracketDTO       `json:"brackets"`
	SocialSecurity *SocialSecurityDTO `json:"social_security,omitempty"`
}

func toRateTableDTO(t payroll.RateTable) RateTableDTO {
	dto := RateTableDTO{
		Country:       t.Country,
		EffectiveDate: t.EffectiveDate.Format(payroll.DateLayout),
		Brackets:      make([]BracketDTO, len(t.Brackets)),
	}
	for i, b := range t.Brackets {
		dto.Brackets[i] = toBracketDTO(b)
	}
	if t.SocialSecurity.ID != "" {
		ss := toSocialSecurityDTO(t.SocialSecurity)
		dto.SocialSecurity = &ss
	}
	return dto
}

type ImportResultDTO struct {
	Tables []RateTableDTO `json:"tables"`
}

// =============================================================================
// SETTINGS
// =============================================================================

type SettingsDTO struct {
	DefaultCurrency   string `json:"default_currency"`
	PayFrequency      string `json:"pay_frequency"`
	AutoCalculate     bool   `json:"auto_calculate"`
	AutoApproveOnEdit bool   `json:"auto_approve_on_edit"`
	TaxPolicy         string `json:"tax_policy"`
	RoundingPlaces    int32  `json:"rounding_places"`
}

func toSettingsDTO(s payroll.Settings) SettingsDTO {
	return SettingsDTO{
		DefaultCurrency:   s.DefaultCurrency,
		PayFrequency:      string(s.PayFrequency),
		AutoCalculate:     s.AutoCalculate,
		AutoApproveOnEdit: s.AutoApproveOnEdit,
		TaxPolicy:         string(s.TaxPolicy),
		RoundingPlaces:    s.RoundingPlaces,
	}
}

func (dto SettingsDTO) settings() payroll.Settings {
	return payroll.Settings{
		DefaultCurrency:   dto.DefaultCurrency,
		PayFrequency:      payroll.PayFrequency(dto.PayFrequency),
		AutoCalculate:     dto.AutoCalculate,
		AutoApproveOnEdit: dto.AutoApproveOnEdit,
		TaxPolicy:         payroll.TaxPolicy(dto.TaxPolicy),
		RoundingPlaces:    dto.RoundingPlaces,
	}
}

// =============================================================================
// PAYROLL RECORDS
// =============================================================================

// CompensationDTO carries the record inputs. Missing amounts are zero.
type CompensationDTO struct {
	BaseSalary      decimal.Decimal `json:"base_salary"`
	Bonuses         decimal.Decimal `json:"bonuses"`
	OvertimePay     decimal.Decimal `json:"overtime_pay"`
	Allowances      decimal.Decimal `json:"allowances"`
	LeaveDeductions decimal.Decimal `json:"leave_deductions"`
	OtherDeductions decimal.Decimal `json:"other_deductions"`
}

func (c CompensationDTO) compensation() payroll.Compensation {
	return payroll.Compensation{
		BaseSalary:      c.BaseSalary,
		Bonuses:         c.Bonuses,
		OvertimePay:     c.OvertimePay,
		Allowances:      c.Allowances,
		LeaveDeductions: c.LeaveDeductions,
		OtherDeductions: c.OtherDeductions,
	}
}

type PayrollRecordDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Country    string `json:"country"`
	Period     string `json:"period"`
	Currency   string `json:"currency"`
	CompensationDTO

	GrossSalary              decimal.Decimal `json:"gross_salary"`
	TaxAmount                decimal.Decimal `json:"tax_amount"`
	SocialSecurity           decimal.Decimal `json:"social_security"`
	EmployerContribution     decimal.Decimal `json:"employer_contribution"`
	NetSalary                decimal.Decimal `json:"net_salary"`
	InsufficientFundsWarning bool            `json:"insufficient_funds_warning"`

	TaxPolicy            string     `json:"tax_policy,omitempty"`
	TaxTableDate         string     `json:"tax_table_date,omitempty"`
	SocialSecurityRateID string     `json:"social_security_rate_id,omitempty"`
	Calculated           bool       `json:"calculated"`
	CalculatedAt         *time.Time `json:"calculated_at,omitempty"`

	Status      string     `json:"status"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toPayrollRecordDTO(r payroll.PayrollRecord) PayrollRecordDTO {
	dto := PayrollRecordDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		Country:    r.Country,
		Period:     r.Period.String(),
		Currency:   r.Currency,
		CompensationDTO: CompensationDTO{
			BaseSalary:      r.BaseSalary,
			Bonuses:         r.Bonuses,
			OvertimePay:     r.OvertimePay,
			Allowances:      r.Allowances,
			LeaveDeductions: r.LeaveDeductions,
			OtherDeductions: r.OtherDeductions,
		},
		GrossSalary:              r.GrossSalary,
		TaxAmount:                r.TaxAmount,
		SocialSecurity:           r.SocialSecurity,
		EmployerContribution:     r.EmployerContribution,
		NetSalary:                r.NetSalary,
		InsufficientFundsWarning: r.InsufficientFundsWarning,
		TaxPolicy:                string(r.TaxPolicy),
		SocialSecurityRateID:     string(r.SocialSecurityRateID),
		Calculated:               r.Calculated(),
		CalculatedAt:             r.CalculatedAt,
		Status:                   string(r.Status),
		PaymentDate:              r.PaymentDate,
		Version:                  r.Version,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
	if r.TaxTableDate != nil {
		dto.TaxTableDate = r.TaxTableDate.Format(payroll.DateLayout)
	}
	return dto
}

type CreatePayrollRequest struct {
	EmployeeID string `json:"employee_id"`
	Period     string `json:"period"`
	Currency   string `json:"currency"`
	CompensationDTO
}

// UpdatePayrollRequest replaces the inputs of a record (PUT /api/payroll/{id}).
type UpdatePayrollRequest struct {
	Currency string `json:"currency"`
	Version  int64  `json:"version"`
	CompensationDTO
}

// RecalculateRequest is the optional body of POST /api/payroll/{id}/recalculate.
type RecalculateRequest struct {
	Version int64 `json:"version"`
}

type TransitionRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

type BulkFailureDTO struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type BulkResultDTO struct {
	Action    string           `json:"action"`
	Succeeded []string         `json:"succeeded"`
	Skipped   []string         `json:"skipped"`
	Failed    []BulkFailureDTO `json:"failed"`
}

func toBulkResultDTO(res payroll.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{
		Action:    string(res.Action),
		Succeeded: make([]string, len(res.Succeeded)),
		Skipped:   make([]string, len(res.Skipped)),
		Failed:    make([]BulkFailureDTO, len(res.Failed)),
	}
	for i, id := range res.Succeeded {
		dto.Succeeded[i] = string(id)
	}
	for i, id := range res.Skipped {
		dto.Skipped[i] = string(id)
	}
	for i, f := range res.Failed {
		dto.Failed[i] = BulkFailureDTO{ID: string(f.ID), Reason: f.Reason, Message: f.Message}
	}
	return dto
}

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func toAuditEntryDTO(e payroll.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Action:     string(e.Action),
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		Payload:    e.Payload,
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// PayRunDTO reports one pay-run pass.
type PayRunDTO struct {
	RanAt   time.Time     `json:"ran_at"`
	Checked int           `json:"checked"`
	Result  BulkResultDTO `json:"result"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code,omitempty"`
	Field     string       `json:"field,omitempty"`
	Details   string       `json:"details,omitempty"`
	Conflicts []BracketDTO `json:"conflicts,omitempty"`
}
