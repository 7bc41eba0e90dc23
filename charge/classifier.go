/*
classifier.go - Groups ledger postings into cost category subtotals

PURPOSE:
  First stage of the calculation pipeline. Raw GL expense postings
  arrive tagged with an account-level category tag; this file nets them
  into one signed subtotal per cost category for the reporting period.

RULES:
  - Debit postings add, credit postings subtract
  - Only postings dated within [period.From, period.To] count
  - Postings whose tag matches no category are ignored
  - Categories with no matching postings yield a zero subtotal,
    never an error
*/
package charge

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ClassifyPostings nets ledger postings into per-category subtotals for the
// period. Every category in AllCategories is present in the result.
func ClassifyPostings(postings []LedgerPosting, period ReportingPeriod) map[CostCategory]CategorySubtotal {
	byTag := make(map[string]CostCategory, len(AllCategories))
	subtotals := make(map[CostCategory]CategorySubtotal, len(AllCategories))
	for _, c := range AllCategories {
		byTag[c.GLTag()] = c
		subtotals[c] = CategorySubtotal{Category: c, Amount: decimal.Zero}
	}

	for _, p := range postings {
		category, ok := byTag[strings.ToLower(strings.TrimSpace(p.Tag))]
		if !ok {
			continue
		}
		if !period.Contains(p.Date) {
			continue
		}
		sub := subtotals[category]
		if p.Debit {
			sub.Amount = sub.Amount.Add(p.Amount)
		} else {
			sub.Amount = sub.Amount.Sub(p.Amount)
		}
		subtotals[category] = sub
	}
	return subtotals
}
