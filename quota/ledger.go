// Package quota maintains the per-contract consumable balance (hours or
// currency) that invoices debit. Debits are exactly-once per
// (fulfillment record, invoice) pair; balances live on the contract and are
// written in a single update. Understated consumption is a business-integrity
// risk, so ledger write failures are hard errors, never swallowed.
package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/contract"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/fulfillment"
	"github.com/hs-interfase/rebill/invoice"
	"github.com/hs-interfase/rebill/lineitem"
)

// Status is the derived quota state label, recomputed on every ledger write.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNearThreshold Status = "near_threshold"
	StatusExhausted     Status = "exhausted"
	// StatusInconsistent flags consumed+remaining != total beyond epsilon.
	// It is reported, never auto-repaired.
	StatusInconsistent Status = "inconsistent"
	StatusDeactivated  Status = "deactivated"
)

type LedgerOptions struct {
	Client crm.Client
	Config *config.Config
	Clock  *clock.Clock
	Logger *zap.Logger
}

type Ledger struct {
	LedgerOptions
}

func NewLedger(option LedgerOptions) (*Ledger, error) {
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
	return &Ledger{
		LedgerOptions: option,
	}, nil
}

// StatusOf derives the status label from current quota values. Inconsistency
// wins over everything: a broken invariant must surface, not be masked by a
// nicer label.
func (l *Ledger) StatusOf(q contract.Quota) Status {
	if !q.Configured() || q.Total == nil {
		return StatusDeactivated
	}
	if !q.Initialized() {
		return StatusOK
	}
	if math.Abs(*q.Consumed+*q.Remaining-*q.Total) > l.Config.QuotaEpsilon {
		return StatusInconsistent
	}
	if *q.Remaining <= 0 {
		return StatusExhausted
	}
	if *q.Remaining <= q.Threshold {
		return StatusNearThreshold
	}
	return StatusOK
}

// Active reports whether the contract's quota can accept consumption.
// An exhausted or deactivated quota silently skips debits; it never errors.
func (l *Ledger) Active(c *contract.Contract) bool {
	if !c.BillingOn() || !c.Quota.Configured() || !c.Quota.Initialized() {
		return false
	}
	switch Status(c.Quota.Status) {
	case StatusDeactivated, StatusExhausted:
		return false
	}
	return *c.Quota.Remaining > 0
}

// Initialize moves a configured quota from inactive to active the first time
// billing turns on: consumed starts at 0 and remaining at the configured
// total, but only for counters that were never set. Values already present
// are never overwritten.
func (l *Ledger) Initialize(ctx context.Context, c *contract.Contract) (bool, error) {
	if !c.BillingOn() || !c.Quota.Configured() || c.Quota.Total == nil {
		return false, nil
	}

	fields := crm.Fields{}
	if c.Quota.Consumed == nil {
		zero := 0.0
		c.Quota.Consumed = &zero
		fields[contract.FieldQuotaConsumed] = crm.FormatFloat(zero)
	}
	if c.Quota.Remaining == nil {
		total := *c.Quota.Total
		c.Quota.Remaining = &total
		fields[contract.FieldQuotaRemaining] = crm.FormatFloat(total)
	}
	if len(fields) == 0 {
		return false, nil
	}

	status := l.StatusOf(c.Quota)
	c.Quota.Status = string(status)
	fields[contract.FieldQuotaStatus] = string(status)

	if err := l.Client.UpdateContract(ctx, c.ID, fields); err != nil {
		return false, extErrors.Wrap(err, "Cannot initialize quota on contract")
	}
	l.Logger.Info("Initialized quota",
		zap.String("ContractID", c.ID),
		zap.String("QuotaType", string(c.Quota.Type)),
		zap.Float64("Total", *c.Quota.Total),
	)
	return true, nil
}

// Consume debits the contract's quota for one invoice. The debit amount
// comes from the fulfillment record's human-adjusted real figures (elapsed
// hours or net billed amount by quota type), never recomputed from list
// price. The marker stored on the fulfillment record makes the debit
// exactly-once per (fulfillment, invoice) pair: a second attempt for the
// same pair is a no-op. Returns the amount debited.
func (l *Ledger) Consume(ctx context.Context, c *contract.Contract, item lineitem.LineItem, ful *fulfillment.Record, inv *invoice.Invoice) (float64, error) {
	if !item.PartOfQuota {
		return 0, nil
	}
	if !l.Active(c) {
		l.Logger.Debug("Quota not active, skipping consumption",
			zap.String("ContractID", c.ID),
			zap.String("QuotaStatus", c.Quota.Status),
		)
		return 0, nil
	}
	if ful.QuotaDebitedKey == inv.Key {
		// this pair already debited
		return 0, nil
	}

	var amount float64
	switch c.Quota.Type {
	case contract.QuotaHours:
		amount = ful.RealHours
	case contract.QuotaAmount:
		amount = ful.RealAmount
	}

	logger := l.Logger.With(
		zap.String("ContractID", c.ID),
		zap.String("InvoiceKey", inv.Key),
		zap.Float64("Amount", amount),
	)

	if prior := l.StatusOf(c.Quota); prior == StatusInconsistent {
		// report, never repair; the debit still happens so consumption is
		// not understated on top of the existing corruption
		logger.Error("Quota invariant violated before debit: consumed+remaining != total",
			zap.Float64("Consumed", *c.Quota.Consumed),
			zap.Float64("Remaining", *c.Quota.Remaining),
			zap.Float64("Total", *c.Quota.Total),
		)
	}

	consumed := *c.Quota.Consumed + amount
	remaining := *c.Quota.Remaining - amount
	c.Quota.Consumed = &consumed
	c.Quota.Remaining = &remaining

	status := l.StatusOf(c.Quota)
	c.Quota.Status = string(status)

	// consumed and remaining go out in one update so the store never holds
	// a half-applied debit
	fields := crm.Fields{
		contract.FieldQuotaConsumed:  crm.FormatFloat(consumed),
		contract.FieldQuotaRemaining: crm.FormatFloat(remaining),
		contract.FieldQuotaStatus:    string(status),
	}
	if remaining <= c.Quota.Threshold && !c.AlertFired() {
		firedAt := l.Clock.Now().Format(time.RFC3339)
		c.Quota.AlertAt = firedAt
		fields[contract.FieldQuotaAlertAt] = firedAt
		logger.Warn("Quota threshold alert fired",
			zap.Float64("Remaining", remaining),
			zap.Float64("Threshold", c.Quota.Threshold),
		)
	}

	if err := l.Client.UpdateContract(ctx, c.ID, fields); err != nil {
		return 0, extErrors.Wrap(err, "Cannot write quota debit to contract")
	}

	if err := l.Client.UpdateFulfillmentRecord(ctx, ful.ID, crm.Fields{
		fulfillment.FieldQuotaDebitedKey: inv.Key,
	}); err != nil {
		return 0, extErrors.Wrap(err, "Cannot write consumption marker")
	}
	ful.QuotaDebitedKey = inv.Key

	if status == StatusExhausted {
		logger.Warn("Quota exhausted, consumption deactivated",
			zap.Float64("Remaining", remaining),
		)
	}
	return amount, nil
}
