/*
handlers.go - HTTP API handlers for the service charge engine

PURPOSE:
  Exposes the calculation engine via REST. Handles HTTP request and
  response shaping, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Charges:
    GET  /api/charges/loans/{id}              Per-loan charge
    POST /api/charges/loans/{id}/installments Redistribute the charge across
                                              pending installments
    POST /api/charges/estimate                Pre-disbursement estimate
    POST /api/charges/recalculate             Bulk run with per-loan outcomes
    GET  /api/charges/sheet                   Result sheet rows

  Rates:
    GET  /api/rates/{kind}/{year}             Persisted rate table

PERIOD SELECTION:
  Every charge endpoint accepts optional ?period=<code>&year=<yyyy>
  query parameters overriding the configured calculation mode's current
  period (e.g. ?period=apr-jun&year=2025 for a quarterly run).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid input, bad period codes, non-flat charges
  - 404: unknown loan, unsettled rates, missing sheet rows
  - 500: internal errors
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/charge-engine/charge"
)

// =============================================================================
// HANDLER
// =============================================================================

// ScheduleStore persists loan repayment schedules for the installment
// redistribution follow-on. Implemented by store/sqlite.
type ScheduleStore interface {
	Installments(ctx context.Context, id charge.LoanID) ([]charge.Installment, error)
	SaveInstallments(ctx context.Context, id charge.LoanID, installments []charge.Installment) error
}

// Handler holds the API's dependencies.
type Handler struct {
	Calc     *charge.Calculator
	Mode     charge.PeriodKind
	Schedule ScheduleStore
}

func NewHandler(calc *charge.Calculator, mode charge.PeriodKind, schedule ScheduleStore) *Handler {
	return &Handler{Calc: calc, Mode: mode, Schedule: schedule}
}

// resolvePeriod picks the reporting period for a request: explicit
// ?period=&year= override when present, otherwise the period containing
// today under the configured calculation mode.
func (h *Handler) resolvePeriod(r *http.Request) (charge.ReportingPeriod, error) {
	code := r.URL.Query().Get("period")
	rawYear := r.URL.Query().Get("year")

	if code == "" && rawYear == "" {
		return charge.ResolvePeriod(h.Mode, charge.Today())
	}

	year := charge.Today().Year()
	if rawYear != "" {
		n, err := strconv.Atoi(rawYear)
		if err != nil {
			return charge.ReportingPeriod{}, &charge.PeriodCodeError{Kind: h.Mode, Code: rawYear}
		}
		year = n
	}
	return charge.ResolvePeriodCode(h.Mode, code, year)
}

// =============================================================================
// CHARGE ENDPOINTS
// =============================================================================

// GetLoanCharge computes the service charge for one loan.
// GET /api/charges/loans/{id}
func (h *Handler) GetLoanCharge(w http.ResponseWriter, r *http.Request) {
	period, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id := charge.LoanID(chi.URLParam(r, "id"))
	amount, err := h.Calc.ServiceChargeForLoan(r.Context(), id, period)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChargeDTO{
		LoanID: string(id),
		Amount: amount.String(),
		Period: period.String(),
	})
}

// RedistributeInstallments recomputes a loan's charge and spreads it across
// the loan's pending installments.
// POST /api/charges/loans/{id}/installments
func (h *Handler) RedistributeInstallments(w http.ResponseWriter, r *http.Request) {
	var req RedistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChargeID == "" {
		req.ChargeID = uuid.NewString()
	}
	if req.Calculation == "" {
		req.Calculation = string(charge.ChargeFlat)
	}

	period, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id := charge.LoanID(chi.URLParam(r, "id"))
	amount, err := h.Calc.ServiceChargeForLoan(r.Context(), id, period)
	if err != nil {
		writeError(w, err)
		return
	}

	installments, err := h.Schedule.Installments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	chargeDef := charge.LoanCharge{
		ID:          req.ChargeID,
		Calculation: charge.ChargeCalculation(req.Calculation),
		Amount:      amount,
	}
	updated, err := charge.RedistributeCharge(chargeDef, amount, installments, h.Calc.Currency)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Schedule.SaveInstallments(r.Context(), id, updated); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(id, amount, updated))
}

// Estimate computes the hypothetical charge for a not-yet-disbursed loan.
// POST /api/charges/estimate
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	principal, ok := parseAmount(req.Principal)
	if !ok || !principal.IsPositive() {
		writeMessage(w, http.StatusBadRequest, "principal must be a positive decimal")
		return
	}
	if req.NumberOfRepayments < 0 {
		writeMessage(w, http.StatusBadRequest, "number_of_repayments must not be negative")
		return
	}

	period, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	est, err := h.Calc.ServiceChargeForPrincipal(r.Context(), principal, req.NumberOfRepayments, period)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EstimateDTO{
		Total:          est.Total.String(),
		PerInstallment: est.PerInstallment.String(),
		Period:         period.String(),
	})
}

// Recalculate runs the bulk per-loan recalculation.
// POST /api/charges/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	period, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.Calc.RecalculateAll(r.Context(), period)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResultDTO(result))
}

// GetSheet runs the calculation pipeline and returns the result sheet.
// GET /api/charges/sheet
func (h *Handler) GetSheet(w http.ResponseWriter, r *http.Request) {
	period, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.Calc.Execute(r.Context(), period)
	if err != nil {
		writeError(w, err)
		return
	}

	dto, err := toSheetDTO(period, run.Sheet)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RATE ENDPOINTS
// =============================================================================

// GetRates returns the persisted rate table for a (kind, year) key.
// GET /api/rates/{kind}/{year}
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	kind, err := charge.ParsePeriodKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "year must be an integer")
		return
	}

	table, err := h.Calc.SettledRates(r.Context(), kind, year)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateTableDTO(table))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case charge.IsClientError(err):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case charge.IsNotFound(err):
		writeMessage(w, http.StatusNotFound, err.Error())
	default:
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}
