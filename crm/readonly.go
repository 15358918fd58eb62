package crm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReadOnly wraps a Client for dry runs: reads pass through, writes are
// logged and succeed without touching the store. Created records get
// synthetic IDs so downstream linking logic still exercises.
type ReadOnly struct {
	next   Client
	logger *zap.Logger
}

var _ Client = &ReadOnly{}

func NewReadOnly(next Client, logger *zap.Logger) *ReadOnly {
	return &ReadOnly{next: next, logger: logger.With(zap.Bool("DryRun", true))}
}

func (r *ReadOnly) skipWrite(op string, fields ...zap.Field) {
	r.logger.Info("Dry run: skipping write",
		append([]zap.Field{zap.String("Op", op)}, fields...)...,
	)
}

func (r *ReadOnly) syntheticRecord(fields Fields) *Record {
	return &Record{ID: "dry-" + uuid.New().String(), Fields: fields}
}

func (r *ReadOnly) GetContract(ctx context.Context, id string, fields []string) (*Record, error) {
	return r.next.GetContract(ctx, id, fields)
}

func (r *ReadOnly) UpdateContract(ctx context.Context, id string, fields Fields) error {
	r.skipWrite("UpdateContract", zap.String("ContractID", id))
	return nil
}

func (r *ReadOnly) SearchContracts(ctx context.Context, filter Filter) (*Page, error) {
	return r.next.SearchContracts(ctx, filter)
}

func (r *ReadOnly) ListLineItems(ctx context.Context, contractID string, fields []string) ([]Record, error) {
	return r.next.ListLineItems(ctx, contractID, fields)
}

func (r *ReadOnly) UpdateLineItem(ctx context.Context, id string, fields Fields) error {
	r.skipWrite("UpdateLineItem", zap.String("LineItemID", id))
	return nil
}

func (r *ReadOnly) SearchFulfillmentRecords(ctx context.Context, filter Filter) (*Page, error) {
	return r.next.SearchFulfillmentRecords(ctx, filter)
}

func (r *ReadOnly) CreateFulfillmentRecord(ctx context.Context, fields Fields, assocs []Association) (*Record, error) {
	r.skipWrite("CreateFulfillmentRecord")
	return r.syntheticRecord(fields), nil
}

func (r *ReadOnly) UpdateFulfillmentRecord(ctx context.Context, id string, fields Fields) error {
	r.skipWrite("UpdateFulfillmentRecord", zap.String("RecordID", id))
	return nil
}

func (r *ReadOnly) GetInvoice(ctx context.Context, id string, fields []string) (*Record, error) {
	return r.next.GetInvoice(ctx, id, fields)
}

func (r *ReadOnly) CreateInvoice(ctx context.Context, fields Fields) (*Record, error) {
	r.skipWrite("CreateInvoice")
	return r.syntheticRecord(fields), nil
}

func (r *ReadOnly) UpdateInvoice(ctx context.Context, id string, fields Fields) error {
	r.skipWrite("UpdateInvoice", zap.String("InvoiceID", id))
	return nil
}

func (r *ReadOnly) Associate(ctx context.Context, fromType ObjectType, fromID string, toType ObjectType, toID string) error {
	r.skipWrite("Associate",
		zap.String("FromType", string(fromType)),
		zap.String("FromID", fromID),
		zap.String("ToType", string(toType)),
		zap.String("ToID", toID),
	)
	return nil
}
