// Package fulfillment handles the unit-of-work records ("tickets"): one
// record per due date per line item. Manual items get a far-future forecast
// record that is later promoted to ready; automatic items get records
// created directly in an actionable stage.
package fulfillment

import (
	"context"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/crm"
)

// Store property names for fulfillment records.
const (
	FieldKey         = "fulfillment_key"
	FieldContractID  = "contract_id"
	FieldLineItemKey = "line_item_key"
	FieldPipeline    = "pipeline"
	FieldStage       = "stage"
	FieldDueDate     = "due_date"
	FieldExpectedAt  = "expected_resolution_date"

	// Human-adjusted real figures, editable before invoicing. These are
	// authoritative for quota consumption; list price never is.
	FieldRealHours  = "real_hours"
	FieldRealAmount = "real_net_amount"

	// FieldQuotaDebitedKey is the consumption marker: the key of the invoice
	// whose debit this record already carried. One debit per pair, ever.
	FieldQuotaDebitedKey = "quota_debited_invoice_key"

	FieldInvoiceID = "invoice_id"
)

// Fields is the read whitelist for fulfillment records.
func Fields() []string {
	return []string{
		FieldKey, FieldContractID, FieldLineItemKey, FieldPipeline,
		FieldStage, FieldDueDate, FieldExpectedAt,
		FieldRealHours, FieldRealAmount, FieldQuotaDebitedKey,
		FieldInvoiceID,
	}
}

type Record struct {
	ID          string
	Key         string
	ContractID  string
	LineItemKey string
	Pipeline    string
	Stage       string
	DueDate     clock.Date
	ExpectedAt  clock.Date

	RealHours  float64
	RealAmount float64

	QuotaDebitedKey string
	InvoiceID       string
}

func FromRecord(rec *crm.Record) Record {
	v := crm.NewView(rec, Fields())
	return Record{
		ID:              v.ID(),
		Key:             v.String(FieldKey),
		ContractID:      v.String(FieldContractID),
		LineItemKey:     v.String(FieldLineItemKey),
		Pipeline:        v.String(FieldPipeline),
		Stage:           v.String(FieldStage),
		DueDate:         v.Date(FieldDueDate),
		ExpectedAt:      v.Date(FieldExpectedAt),
		RealHours:       v.Float(FieldRealHours),
		RealAmount:      v.Float(FieldRealAmount),
		QuotaDebitedKey: v.String(FieldQuotaDebitedKey),
		InvoiceID:       v.String(FieldInvoiceID),
	}
}

// FindByKey looks up the record for an idempotency key. At most one record
// may exist per key; if the store has grown duplicates the earliest created
// (lowest id) wins and the rest are ignored.
func FindByKey(ctx context.Context, client crm.Client, key string) (*Record, error) {
	page, err := client.SearchFulfillmentRecords(ctx, crm.Filter{
		Conditions: []crm.Condition{
			{Field: FieldKey, Operator: "eq", Value: key},
		},
		Fields: Fields(),
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, nil
	}
	rec := FromRecord(&page.Records[0])
	return &rec, nil
}
