package invoice

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/fulfillment"
	"github.com/hs-interfase/rebill/lineitem"
	"github.com/hs-interfase/rebill/recordkey"
)

type EmitterOptions struct {
	Client crm.Client
	Config *config.Config
	Clock  *clock.Clock
	Logger *zap.Logger
}

// Emitter creates at most one invoice per (contract, line item, due date)
// key, no matter how many times the billing path runs.
type Emitter struct {
	EmitterOptions
}

func NewEmitter(option EmitterOptions) (*Emitter, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Config == nil {
		return nil, fmt.Errorf("nil Config is invalid")
	}
	if option.Clock == nil {
		return nil, fmt.Errorf("nil Clock is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Emitter{
		EmitterOptions: option,
	}, nil
}

// Ensure returns the invoice for the given due date, creating it if needed.
// Lookup goes through the line item's stored invoice pointer first, then the
// fulfillment record's pointer. Both pointers are subject to the dirty-clone
// guard: a reference is only believed when the key stored on the referenced
// invoice equals the expected key; a mismatch means the pointer was
// inherited by a cloned record and the invoice belongs to someone else, so
// creation proceeds as if nothing existed.
func (e *Emitter) Ensure(ctx context.Context, contractID string, item *lineitem.LineItem, ful *fulfillment.Record, due clock.Date) (*Invoice, bool, error) {
	expected := recordkey.Make(contractID, item.Key, due)
	logger := e.Logger.With(
		zap.String("ContractID", contractID),
		zap.String("LineItemKey", item.Key),
		zap.String("InvoiceKey", expected),
	)

	// Primary lookup: pointer stored on the line item.
	if item.LastInvoiceID != "" && recordkey.Matches(item.LastInvoiceKey, expected) {
		inv, err := e.fetchVerified(ctx, item.LastInvoiceID, expected)
		if err != nil {
			return nil, false, err
		}
		if inv != nil {
			return inv, false, nil
		}
		logger.Warn("Line item invoice pointer failed key verification, treating as absent",
			zap.String("InvoiceID", item.LastInvoiceID),
		)
	}

	// Fallback lookup: pointer stored on the fulfillment record.
	if ful.InvoiceID != "" {
		inv, err := e.fetchVerified(ctx, ful.InvoiceID, expected)
		if err != nil {
			return nil, false, err
		}
		if inv != nil {
			return inv, false, nil
		}
		logger.Warn("Fulfillment invoice pointer failed key verification, treating as absent",
			zap.String("InvoiceID", ful.InvoiceID),
		)
	}

	// The human-adjusted net amount on the fulfillment record is
	// authoritative, never the list price.
	rec, err := e.Client.CreateInvoice(ctx, crm.Fields{
		FieldKey:           expected,
		FieldStage:         string(StagePending),
		FieldAmount:        crm.FormatFloat(ful.RealAmount),
		FieldCurrency:      e.Config.Currency,
		FieldDueDate:       due.String(),
		FieldContractID:    contractID,
		FieldLineItemKey:   item.Key,
		FieldFulfillmentID: ful.ID,
	})
	if err != nil {
		return nil, false, extErrors.Wrap(err, "Cannot create invoice")
	}
	inv := FromRecord(rec)

	if err := e.link(ctx, &inv, contractID, item, ful); err != nil {
		return nil, false, err
	}

	logger.Info("Emitted invoice",
		zap.String("InvoiceID", inv.ID),
		zap.Float64("Amount", inv.Amount),
	)
	return &inv, true, nil
}

// fetchVerified returns the invoice only if it exists and its stored key
// matches the expected key. A missing record or mismatched key returns nil
// without error.
func (e *Emitter) fetchVerified(ctx context.Context, id, expected string) (*Invoice, error) {
	rec, err := e.Client.GetInvoice(ctx, id, Fields())
	if crm.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot fetch referenced invoice")
	}
	inv := FromRecord(rec)
	if !recordkey.Matches(inv.Key, expected) {
		return nil, nil
	}
	return &inv, nil
}

// link wires the invoice, fulfillment record and line item together and
// moves the fulfillment record into its invoiced stage.
func (e *Emitter) link(ctx context.Context, inv *Invoice, contractID string, item *lineitem.LineItem, ful *fulfillment.Record) error {
	if err := e.Client.Associate(ctx, crm.ObjectInvoice, inv.ID, crm.ObjectFulfillment, ful.ID); err != nil {
		return extErrors.Wrap(err, "Cannot associate invoice with fulfillment record")
	}
	if err := e.Client.Associate(ctx, crm.ObjectInvoice, inv.ID, crm.ObjectContract, contractID); err != nil {
		return extErrors.Wrap(err, "Cannot associate invoice with contract")
	}
	if err := e.Client.UpdateFulfillmentRecord(ctx, ful.ID, crm.Fields{
		fulfillment.FieldInvoiceID: inv.ID,
		fulfillment.FieldStage:     e.Config.Stages.Invoiced,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot point fulfillment record at invoice")
	}
	ful.InvoiceID = inv.ID
	ful.Stage = e.Config.Stages.Invoiced

	if err := e.Client.UpdateLineItem(ctx, item.RecordID, crm.Fields{
		lineitem.FieldLastInvoiceID:  inv.ID,
		lineitem.FieldLastInvoiceKey: inv.Key,
	}); err != nil {
		return extErrors.Wrap(err, "Cannot point line item at invoice")
	}
	item.LastInvoiceID = inv.ID
	item.LastInvoiceKey = inv.Key
	return nil
}
