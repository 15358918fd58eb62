// Package invoice creates the billable artifacts. Invoices share the same
// deterministic key family as fulfillment records, which is what makes the
// two cross-referenceable and creation idempotent.
package invoice

import (
	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/crm"
)

// Stage is the invoice lifecycle stage.
type Stage string

const (
	StagePending   Stage = "pending"
	StageIssued    Stage = "issued"
	StagePaid      Stage = "paid"
	StageCancelled Stage = "cancelled"
)

// Store property names for invoices.
const (
	FieldKey           = "invoice_key"
	FieldStage         = "stage"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldDueDate       = "due_date"
	FieldContractID    = "contract_id"
	FieldLineItemKey   = "line_item_key"
	FieldFulfillmentID = "fulfillment_record_id"
)

// Fields is the read whitelist for invoice records.
func Fields() []string {
	return []string{
		FieldKey, FieldStage, FieldAmount, FieldCurrency, FieldDueDate,
		FieldContractID, FieldLineItemKey, FieldFulfillmentID,
	}
}

type Invoice struct {
	ID            string
	Key           string
	Stage         Stage
	Amount        float64
	Currency      string
	DueDate       clock.Date
	ContractID    string
	LineItemKey   string
	FulfillmentID string
}

func FromRecord(rec *crm.Record) Invoice {
	v := crm.NewView(rec, Fields())
	return Invoice{
		ID:            v.ID(),
		Key:           v.String(FieldKey),
		Stage:         Stage(v.String(FieldStage)),
		Amount:        v.Float(FieldAmount),
		Currency:      v.String(FieldCurrency),
		DueDate:       v.Date(FieldDueDate),
		ContractID:    v.String(FieldContractID),
		LineItemKey:   v.String(FieldLineItemKey),
		FulfillmentID: v.String(FieldFulfillmentID),
	}
}
