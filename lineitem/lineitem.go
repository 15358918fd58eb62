// Package lineitem is the typed view over line item records: one billable
// unit of a contract, carrying its recurrence descriptor and the operational
// pointers the orchestrator maintains.
package lineitem

import (
	"fmt"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/recordkey"
	"github.com/hs-interfase/rebill/schedule"
)

// Store property names for line items.
const (
	// FieldKey is the stable identity key (LIK). It is assigned once, never
	// changes, and is what every downstream artifact is matched on. The
	// mutable numeric record id is never used for matching.
	FieldKey = "line_item_key"

	FieldFrequency     = "billing_frequency"
	FieldStartDate     = "billing_start_date"
	FieldDelayDays     = "billing_start_delay_days"
	FieldDelayMonths   = "billing_start_delay_months"
	FieldTotalPayments = "total_payments"
	FieldNextOverride  = "next_billing_override"

	FieldAutomatic   = "automatic_billing"
	FieldPartOfQuota = "part_of_quota"
	FieldPaused      = "billing_paused"
	FieldBillNow     = "bill_now"

	// Per-period billing figures. These seed the adjustable real quantities
	// on newly created fulfillment records.
	FieldNetAmount = "net_amount"
	FieldHours     = "hours_per_period"

	FieldPaymentsRemaining = "payments_remaining"
	FieldNoticesIssued     = "notices_issued"
	FieldNoticesRemaining  = "notices_remaining"

	FieldLastFulfilled   = "last_fulfilled_date"
	FieldNextFulfillment = "next_fulfillment_date"
	FieldLastInvoiceID   = "last_invoice_id"
	FieldLastInvoiceKey  = "last_invoice_key"
)

// Fields is the read whitelist for line item records.
func Fields() []string {
	return []string{
		FieldKey, FieldFrequency, FieldStartDate, FieldDelayDays,
		FieldDelayMonths, FieldTotalPayments, FieldNextOverride,
		FieldAutomatic, FieldPartOfQuota, FieldPaused, FieldBillNow,
		FieldNetAmount, FieldHours,
		FieldPaymentsRemaining, FieldNoticesIssued, FieldNoticesRemaining,
		FieldLastFulfilled, FieldNextFulfillment,
		FieldLastInvoiceID, FieldLastInvoiceKey,
	}
}

type LineItem struct {
	RecordID string
	Key      string

	Recurrence schedule.Recurrence

	Automatic   bool
	PartOfQuota bool
	Paused      bool
	BillNow     bool

	NetAmount float64
	Hours     float64

	PaymentsRemaining int
	NoticesIssued     int
	NoticesRemaining  int

	LastFulfilled   clock.Date
	NextFulfillment clock.Date
	LastInvoiceID   string
	LastInvoiceKey  string
}

func FromRecord(rec *crm.Record) LineItem {
	v := crm.NewView(rec, Fields())
	return LineItem{
		RecordID: v.ID(),
		Key:      v.String(FieldKey),
		Recurrence: schedule.Recurrence{
			Frequency:     schedule.Frequency(v.String(FieldFrequency)),
			StartDate:     v.Date(FieldStartDate),
			DelayDays:     v.Int(FieldDelayDays),
			DelayMonths:   v.Int(FieldDelayMonths),
			TotalPayments: v.Int(FieldTotalPayments),
			NextOverride:  v.Date(FieldNextOverride),
		},
		Automatic:         v.Bool(FieldAutomatic),
		PartOfQuota:       v.Bool(FieldPartOfQuota),
		Paused:            v.Bool(FieldPaused),
		BillNow:           v.Bool(FieldBillNow),
		NetAmount:         v.Float(FieldNetAmount),
		Hours:             v.Float(FieldHours),
		PaymentsRemaining: v.Int(FieldPaymentsRemaining),
		NoticesIssued:     v.Int(FieldNoticesIssued),
		NoticesRemaining:  v.Int(FieldNoticesRemaining),
		LastFulfilled:     v.Date(FieldLastFulfilled),
		NextFulfillment:   v.Date(FieldNextFulfillment),
		LastInvoiceID:     v.String(FieldLastInvoiceID),
		LastInvoiceKey:    v.String(FieldLastInvoiceKey),
	}
}

// Validate rejects line items that cannot participate in billing at all.
// A failed item is skipped and reported; its siblings still process.
func (li LineItem) Validate() error {
	if !recordkey.ValidPart(li.Key) {
		return fmt.Errorf("line item %s has a missing or malformed identity key", li.RecordID)
	}
	if li.Recurrence.Frequency == "" {
		return fmt.Errorf("line item %s (%s) has no billing frequency", li.RecordID, li.Key)
	}
	return nil
}

// DetectClones finds line items whose identity key duplicates an earlier
// sibling's. A key must never be shared across unrelated line items; the
// usual cause is a cloned record that inherited another's key. The clone
// (the later record id) is the corrupt one: its operational fields must be
// wiped, not trusted. Returns indexes of the clones.
func DetectClones(items []LineItem) []int {
	seen := make(map[string]struct{}, len(items))
	var clones []int
	for i, li := range items {
		if li.Key == "" {
			continue
		}
		if _, dup := seen[li.Key]; dup {
			clones = append(clones, i)
			continue
		}
		seen[li.Key] = struct{}{}
	}
	return clones
}

// WipeOperational clears the fields a clone inherited from its source so the
// orchestrator never acts on another item's history. Returns the store
// update and resets the in-memory copy to match.
func (li *LineItem) WipeOperational() crm.Fields {
	li.LastFulfilled = clock.Date{}
	li.NextFulfillment = clock.Date{}
	li.LastInvoiceID = ""
	li.LastInvoiceKey = ""
	li.NoticesIssued = 0
	li.BillNow = false
	return crm.Fields{
		FieldLastFulfilled:   "",
		FieldNextFulfillment: "",
		FieldLastInvoiceID:   "",
		FieldLastInvoiceKey:  "",
		FieldNoticesIssued:   "0",
		FieldBillNow:         "false",
	}
}
