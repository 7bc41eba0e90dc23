/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal decimal-based domain model from the external contract.
  Amounts cross the wire as strings to avoid float precision loss.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/charge-engine/charge"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ChargeDTO is a computed per-loan service charge.
type ChargeDTO struct {
	LoanID string `json:"loan_id"`
	Amount string `json:"amount"`
	Period string `json:"period"`
}

// EstimateRequest asks for a pre-disbursement charge estimate.
type EstimateRequest struct {
	Principal          string `json:"principal"`
	NumberOfRepayments int    `json:"number_of_repayments"`
}

// EstimateDTO is the hypothetical charge for a principal about to disburse.
type EstimateDTO struct {
	Total          string `json:"total"`
	PerInstallment string `json:"per_installment"`
	Period         string `json:"period"`
}

// RedistributeRequest drives installment-level charge redistribution.
// Both fields are optional; the calculation defaults to flat.
type RedistributeRequest struct {
	ChargeID    string `json:"charge_id"`
	Calculation string `json:"calculation"`
}

// InstallmentDTO is one schedule entry after redistribution.
type InstallmentDTO struct {
	Number        int    `json:"number"`
	DueDate       string `json:"due_date"`
	Paid          bool   `json:"paid"`
	Charge        string `json:"charge"`
	ChargeEntryID string `json:"charge_entry_id,omitempty"`
}

// ScheduleDTO is the updated schedule returned after redistribution.
type ScheduleDTO struct {
	LoanID       string           `json:"loan_id"`
	TotalCharge  string           `json:"total_charge"`
	Installments []InstallmentDTO `json:"installments"`
}

// OutcomeDTO is one loan's result within a bulk recalculation.
type OutcomeDTO struct {
	LoanID string `json:"loan_id"`
	Amount string `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkResultDTO reports a bulk recalculation run.
type BulkResultDTO struct {
	RunID    string       `json:"run_id"`
	Period   string       `json:"period"`
	Total    int          `json:"total"`
	Failed   int          `json:"failed"`
	Outcomes []OutcomeDTO `json:"outcomes"`
}

// SheetRowDTO is one ordered result-sheet row.
type SheetRowDTO struct {
	Header string   `json:"header"`
	Values []string `json:"values"`
}

// SheetDTO is the rendered result sheet for a period.
type SheetDTO struct {
	Period string        `json:"period"`
	Rows   []SheetRowDTO `json:"rows"`
}

// RateTableDTO is a persisted rate table.
type RateTableDTO struct {
	Kind                string `json:"kind"`
	Year                int    `json:"year"`
	MobilizationPercent string `json:"mobilization_percent"`
	ServicingPerLoan    string `json:"servicing_per_loan"`
	RepaymentPer100     string `json:"repayment_per_100"`
	AnnualizedCost      string `json:"annualized_cost"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBulkResultDTO(r *charge.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{
		RunID:  r.RunID,
		Period: r.Period.String(),
		Total:  len(r.Outcomes),
		Failed: len(r.Failed()),
	}
	for _, o := range r.Outcomes {
		out := OutcomeDTO{LoanID: string(o.LoanID)}
		if o.Err != nil {
			out.Error = o.Err.Error()
		} else {
			out.Amount = o.Amount.String()
		}
		dto.Outcomes = append(dto.Outcomes, out)
	}
	return dto
}

func toSheetDTO(period charge.ReportingPeriod, sheet *charge.ResultSheet) (SheetDTO, error) {
	dto := SheetDTO{Period: period.String()}
	for _, header := range sheet.Headers() {
		values, err := sheet.Row(header)
		if err != nil {
			return SheetDTO{}, err
		}
		row := SheetRowDTO{Header: header}
		for _, v := range values {
			row.Values = append(row.Values, v.String())
		}
		dto.Rows = append(dto.Rows, row)
	}
	return dto, nil
}

func toRateTableDTO(t charge.RateTable) RateTableDTO {
	return RateTableDTO{
		Kind:                string(t.Kind),
		Year:                t.Year,
		MobilizationPercent: t.MobilizationPercent.String(),
		ServicingPerLoan:    t.ServicingPerLoan.String(),
		RepaymentPer100:     t.RepaymentPer100.String(),
		AnnualizedCost:      t.AnnualizedCost.String(),
	}
}

func toScheduleDTO(id charge.LoanID, total decimal.Decimal, installments []charge.Installment) ScheduleDTO {
	dto := ScheduleDTO{LoanID: string(id), TotalCharge: total.String()}
	for _, inst := range installments {
		dto.Installments = append(dto.Installments, InstallmentDTO{
			Number:        inst.Number,
			DueDate:       inst.DueDate.String(),
			Paid:          inst.Paid,
			Charge:        inst.Charge.String(),
			ChargeEntryID: inst.ChargeEntryID,
		})
	}
	return dto
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
