// Package orchestrator sequences the per-contract billing pass: schedule
// recomputation, the one-time activation gate, manual fulfillment promotion
// and automatic invoice emission. Each phase is isolated so one phase's
// failure never blocks the others, and every operation tolerates duplicated
// or out-of-order triggers through idempotency keys and monotonic guards.
package orchestrator

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/contract"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/fulfillment"
	"github.com/hs-interfase/rebill/invoice"
	"github.com/hs-interfase/rebill/lineitem"
	"github.com/hs-interfase/rebill/quota"
	"github.com/hs-interfase/rebill/recordkey"
	"github.com/hs-interfase/rebill/schedule"
)

type Options struct {
	Client crm.Client
	Config *config.Config
	Clock  *clock.Clock
	Logger *zap.Logger

	// Mirror triggers cross-region contract duplication. Optional.
	Mirror contract.Mirror
}

type Orchestrator struct {
	Options
	promoter *fulfillment.Promoter
	emitter  *invoice.Emitter
	ledger   *quota.Ledger
}

func New(option Options) (*Orchestrator, error) {
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
	promoter, err := fulfillment.NewPromoter(fulfillment.PromoterOptions{
		Client: option.Client,
		Config: option.Config,
		Clock:  option.Clock,
		Logger: option.Logger,
	})
	if err != nil {
		return nil, err
	}
	emitter, err := invoice.NewEmitter(invoice.EmitterOptions{
		Client: option.Client,
		Config: option.Config,
		Clock:  option.Clock,
		Logger: option.Logger,
	})
	if err != nil {
		return nil, err
	}
	ledger, err := quota.NewLedger(quota.LedgerOptions{
		Client: option.Client,
		Config: option.Config,
		Clock:  option.Clock,
		Logger: option.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Options:  option,
		promoter: promoter,
		emitter:  emitter,
		ledger:   ledger,
	}, nil
}

// DryRun returns a copy whose writes are logged no-ops.
func (o *Orchestrator) DryRun() (*Orchestrator, error) {
	opts := o.Options
	opts.Client = crm.NewReadOnly(o.Client, o.Logger)
	return New(opts)
}

// PhaseError is one reported failure, attributed to a phase and, when it
// concerns a single line item, to that item's identity key.
type PhaseError struct {
	Phase       string
	LineItemKey string
	Err         error
}

func (e PhaseError) String() string {
	if e.LineItemKey != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Phase, e.LineItemKey, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

// Result is what one contract's pass produced.
type Result struct {
	ContractID       string
	ScheduleResolved int
	DatesRefreshed   bool
	QuotaInitialized bool
	Activated        bool
	Promoted         int
	InvoicesEmitted  int
	Errors           []PhaseError
}

// RunPhasesForContract executes the full per-contract sequence:
// phase 1 (schedule + quota init + mirroring), the activation gate, phase 2
// (manual promotion) and phase 3 (automatic invoicing). Phase 1 always runs,
// even with billing paused, because the denormalized reporting dates must
// stay current. A phase's failure is recorded and the remaining phases still
// run against whatever state is persisted.
func (o *Orchestrator) RunPhasesForContract(ctx context.Context, c contract.Contract, items []lineitem.LineItem) Result {
	res := Result{ContractID: c.ID}
	logger := o.Logger.With(zap.String("ContractID", c.ID))

	o.runPhase(logger, "phase1", &res, func() error {
		return o.phase1(ctx, logger, &c, items, &res)
	})
	o.runPhase(logger, "activation_gate", &res, func() error {
		return o.activationGate(ctx, logger, &c, &res)
	})
	if c.BillingOn() {
		o.runPhase(logger, "phase2", &res, func() error {
			return o.phase2(ctx, logger, &c, items, &res)
		})
		o.runPhase(logger, "phase3", &res, func() error {
			return o.phase3(ctx, logger, &c, items, &res)
		})
	} else {
		logger.Debug("Billing inactive, skipping fulfillment and invoicing phases")
	}
	return res
}

// runPhase isolates one phase: errors and panics are recorded on the result
// and never propagate into the next phase.
func (o *Orchestrator) runPhase(logger *zap.Logger, phase string, res *Result, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Phase panicked",
				zap.String("Phase", phase),
				zap.Any("Panic", r),
			)
			res.Errors = append(res.Errors, PhaseError{Phase: phase, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	if err := fn(); err != nil {
		logger.Error("Phase failed",
			zap.String("Phase", phase),
			zap.Error(err),
		)
		res.Errors = append(res.Errors, PhaseError{Phase: phase, Err: err})
	}
}

// phase1 recomputes the schedule for every line item, refreshes the
// contract's denormalized dates, initializes quota and triggers mirroring.
func (o *Orchestrator) phase1(ctx context.Context, logger *zap.Logger, c *contract.Contract, items []lineitem.LineItem, res *Result) error {
	today := o.Clock.Today()

	// A cloned line item that inherited a sibling's identity key must not be
	// trusted: wipe its operational fields before anything acts on them.
	for _, idx := range lineitem.DetectClones(items) {
		clone := &items[idx]
		logger.Error("Line item shares an identity key with a sibling, wiping operational fields",
			zap.String("LineItemID", clone.RecordID),
			zap.String("LineItemKey", clone.Key),
		)
		wipe := clone.WipeOperational()
		if err := o.Client.UpdateLineItem(ctx, clone.RecordID, wipe); err != nil {
			res.Errors = append(res.Errors, PhaseError{
				Phase:       "phase1",
				LineItemKey: clone.Key,
				Err:         extErrors.Wrap(err, "Cannot wipe cloned line item"),
			})
			continue
		}
		res.Errors = append(res.Errors, PhaseError{
			Phase:       "phase1",
			LineItemKey: clone.Key,
			Err:         fmt.Errorf("duplicate identity key inherited by record %s, operational fields wiped", clone.RecordID),
		})
	}

	var earliestNext, latestLast *clock.Date
	for i := range items {
		item := &items[i]
		if err := item.Validate(); err != nil {
			res.Errors = append(res.Errors, PhaseError{Phase: "phase1", LineItemKey: item.Key, Err: err})
			continue
		}

		itemFields := crm.Fields{}

		normalized := schedule.Normalize(item.Recurrence, today)
		if !normalized.StartDate.Equal(item.Recurrence.StartDate) {
			// relative start delay resolved to a concrete date, persist it
			// so it is never recomputed
			itemFields[lineitem.FieldStartDate] = normalized.StartDate.String()
			itemFields[lineitem.FieldDelayDays] = "0"
			itemFields[lineitem.FieldDelayMonths] = "0"
		}
		item.Recurrence = normalized

		next, last, err := schedule.Resolve(item.Recurrence, today)
		if err != nil {
			res.Errors = append(res.Errors, PhaseError{Phase: "phase1", LineItemKey: item.Key, Err: err})
			continue
		}
		res.ScheduleResolved++

		if next != nil && !next.Equal(item.NextFulfillment) {
			itemFields[lineitem.FieldNextFulfillment] = next.String()
			item.NextFulfillment = *next
		}
		if len(itemFields) > 0 {
			if err := o.Client.UpdateLineItem(ctx, item.RecordID, itemFields); err != nil {
				res.Errors = append(res.Errors, PhaseError{
					Phase:       "phase1",
					LineItemKey: item.Key,
					Err:         extErrors.Wrap(err, "Cannot persist schedule fields"),
				})
				continue
			}
		}

		if next != nil && (earliestNext == nil || next.Before(*earliestNext)) {
			earliestNext = next
		}
		if last != nil && (latestLast == nil || last.After(*latestLast)) {
			latestLast = last
		}
	}

	// Denormalized reporting dates on the contract stay current even while
	// billing is paused.
	contractFields := crm.Fields{}
	if earliestNext != nil && !earliestNext.Equal(c.NextBillingDate) {
		contractFields[contract.FieldNextBillingDate] = earliestNext.String()
		c.NextBillingDate = *earliestNext
	}
	if latestLast != nil && !latestLast.Equal(c.LastBillingDate) {
		contractFields[contract.FieldLastBillingDate] = latestLast.String()
		c.LastBillingDate = *latestLast
	}
	if len(contractFields) > 0 {
		err := crm.Do(ctx, logger, o.Config.Retry, crm.IsTransient, func() error {
			return o.Client.UpdateContract(ctx, c.ID, contractFields)
		})
		if err != nil {
			return extErrors.Wrap(err, "Cannot refresh contract billing dates")
		}
		res.DatesRefreshed = true
	}

	initialized, err := o.ledger.Initialize(ctx, c)
	if err != nil {
		return err
	}
	res.QuotaInitialized = initialized

	o.triggerMirror(ctx, logger, c, res)
	return nil
}

// triggerMirror validates the mirror reference and hands the contract to the
// mirroring collaborator. The two sides of a mirror pair are independent
// entities: only this side's foreign key (id + expected key) is checked here.
func (o *Orchestrator) triggerMirror(ctx context.Context, logger *zap.Logger, c *contract.Contract, res *Result) {
	if o.Mirror == nil || c.MirrorID == "" {
		return
	}
	rec, err := o.Client.GetContract(ctx, c.MirrorID, contract.Fields())
	if crm.IsNotFound(err) {
		logger.Warn("Mirror contract does not exist, skipping mirroring",
			zap.String("MirrorID", c.MirrorID),
		)
		return
	}
	if err != nil {
		res.Errors = append(res.Errors, PhaseError{Phase: "phase1", Err: extErrors.Wrap(err, "Cannot fetch mirror contract")})
		return
	}
	mirror := contract.FromRecord(rec)
	if !recordkey.Matches(mirror.Key, c.MirrorKey) {
		logger.Warn("Mirror reference failed key verification, skipping mirroring",
			zap.String("MirrorID", c.MirrorID),
		)
		return
	}
	if err := o.Mirror.MirrorContract(ctx, *c); err != nil {
		res.Errors = append(res.Errors, PhaseError{Phase: "phase1", Err: extErrors.Wrap(err, "Cannot mirror contract")})
	}
}

// activationGate turns billing on exactly once when a contract enters its
// won stage. The edge is detected by the absence of the billingActive field,
// not by re-checking the stage on every pass, so the transition can never
// re-fire. After the write the contract is refetched at least once before
// later phases proceed, since a just-written field may not yet be visible.
func (o *Orchestrator) activationGate(ctx context.Context, logger *zap.Logger, c *contract.Contract, res *Result) error {
	if !c.Won() || c.BillingActive != nil {
		return nil
	}
	err := crm.Do(ctx, logger, o.Config.Retry, crm.IsTransient, func() error {
		return o.Client.UpdateContract(ctx, c.ID, crm.Fields{
			contract.FieldBillingActive: crm.FormatBool(true),
		})
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot activate billing")
	}

	rec, err := o.Client.GetContract(ctx, c.ID, contract.Fields())
	if err != nil {
		return extErrors.Wrap(err, "Cannot refetch contract after activation")
	}
	refreshed := contract.FromRecord(rec)
	if refreshed.BillingActive == nil {
		// the store has not caught up with our own write yet; we know the
		// truth, keep it
		active := true
		refreshed.BillingActive = &active
	}
	*c = refreshed

	res.Activated = true
	logger.Info("Billing activated for newly won contract")
	return nil
}

// phase2 promotes forecast records for manually-fulfilled line items whose
// due date has entered the lookahead window.
func (o *Orchestrator) phase2(ctx context.Context, logger *zap.Logger, c *contract.Contract, items []lineitem.LineItem, res *Result) error {
	today := o.Clock.Today()
	for i := range items {
		item := &items[i]
		if item.Automatic || item.Paused || item.Validate() != nil {
			continue
		}
		next, _, err := schedule.Resolve(item.Recurrence, today)
		if err != nil || next == nil {
			continue
		}
		if today.DaysUntil(*next) > o.Config.LookaheadDays {
			continue
		}
		outcome, err := o.promoter.Promote(ctx, c.ID, item, *next, nil)
		if err != nil {
			res.Errors = append(res.Errors, PhaseError{Phase: "phase2", LineItemKey: item.Key, Err: err})
			continue
		}
		switch outcome {
		case fulfillment.OutcomePromoted:
			res.Promoted++
		case fulfillment.OutcomeMissing:
			res.Errors = append(res.Errors, PhaseError{
				Phase:       "phase2",
				LineItemKey: item.Key,
				Err:         fmt.Errorf("no forecast record for due date %s", next.String()),
			})
		}
	}
	return nil
}

// phase3 bills automatically-fulfilled line items that are due today or
// carry a one-shot bill-now override: fulfillment record, invoice, links,
// quota debit and counters, all idempotent by key.
func (o *Orchestrator) phase3(ctx context.Context, logger *zap.Logger, c *contract.Contract, items []lineitem.LineItem, res *Result) error {
	today := o.Clock.Today()
	for i := range items {
		item := &items[i]
		if !item.Automatic || item.Paused || item.Validate() != nil {
			continue
		}
		next, _, err := schedule.Resolve(item.Recurrence, today)
		if err != nil {
			continue
		}

		var due clock.Date
		switch {
		case item.BillNow:
			due = today
		case next != nil && next.Equal(today):
			due = today
		default:
			continue
		}

		if err := o.billLineItem(ctx, c, item, due, res); err != nil {
			res.Errors = append(res.Errors, PhaseError{Phase: "phase3", LineItemKey: item.Key, Err: err})
		}
	}
	return nil
}

func (o *Orchestrator) billLineItem(ctx context.Context, c *contract.Contract, item *lineitem.LineItem, due clock.Date, res *Result) error {
	rec, err := o.ensureFulfillment(ctx, c.ID, item, due)
	if err != nil {
		return err
	}
	if rec.Stage == o.Config.Stages.Cancelled {
		// a human cancelled this occurrence; not ours to bill
		return nil
	}

	inv, created, err := o.emitter.Ensure(ctx, c.ID, item, rec, due)
	if err != nil {
		return err
	}
	if created {
		res.InvoicesEmitted++
	}

	// The debit is marker-guarded, so invoking it for an existing invoice is
	// safe; a ledger failure is a hard error for this line item's pass.
	if _, err := o.ledger.Consume(ctx, c, *item, rec, inv); err != nil {
		return err
	}

	if created {
		return o.advanceCounters(ctx, item, due)
	}
	return nil
}

// ensureFulfillment finds or creates the automatic-pipeline record for the
// due date. Automatic records are born directly in the actionable stage and
// linked immediately; only manual forecasts defer their associations.
func (o *Orchestrator) ensureFulfillment(ctx context.Context, contractID string, item *lineitem.LineItem, due clock.Date) (*fulfillment.Record, error) {
	key := recordkey.Make(contractID, item.Key, due)
	rec, err := fulfillment.FindByKey(ctx, o.Client, key)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up fulfillment record")
	}
	if rec != nil {
		return rec, nil
	}
	created, err := o.Client.CreateFulfillmentRecord(ctx, crm.Fields{
		fulfillment.FieldKey:         key,
		fulfillment.FieldContractID:  contractID,
		fulfillment.FieldLineItemKey: item.Key,
		fulfillment.FieldPipeline:    o.Config.Pipelines.Automatic,
		fulfillment.FieldStage:       o.Config.Stages.Ready,
		fulfillment.FieldDueDate:     due.String(),
		fulfillment.FieldExpectedAt:  due.String(),
		fulfillment.FieldRealHours:   crm.FormatFloat(item.Hours),
		fulfillment.FieldRealAmount:  crm.FormatFloat(item.NetAmount),
	}, []crm.Association{
		{ToType: crm.ObjectContract, ToID: contractID},
		{ToType: crm.ObjectLineItem, ToID: item.RecordID},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create fulfillment record")
	}
	r := fulfillment.FromRecord(created)
	return &r, nil
}

// advanceCounters updates the line item after a successful automatic
// billing: monotonic last-fulfilled, recomputed next date, payment and
// notice counters, and the one-shot bill-now override cleared in the same
// write that records the emission.
func (o *Orchestrator) advanceCounters(ctx context.Context, item *lineitem.LineItem, due clock.Date) error {
	fields := crm.Fields{}

	newLast := clock.MaxDate(item.LastFulfilled, due)
	if newLast.After(item.LastFulfilled) || item.LastFulfilled.IsZero() {
		fields[lineitem.FieldLastFulfilled] = newLast.String()
		item.LastFulfilled = newLast
	}

	next, _, err := schedule.Resolve(item.Recurrence, due.AddDays(1))
	if err == nil {
		if next != nil {
			fields[lineitem.FieldNextFulfillment] = next.String()
			item.NextFulfillment = *next
		} else {
			fields[lineitem.FieldNextFulfillment] = ""
			item.NextFulfillment = clock.Date{}
		}
	}

	if item.PaymentsRemaining > 0 {
		item.PaymentsRemaining--
		fields[lineitem.FieldPaymentsRemaining] = crm.FormatInt(item.PaymentsRemaining)
	}
	if item.NoticesRemaining > 0 {
		item.NoticesRemaining--
		item.NoticesIssued++
		fields[lineitem.FieldNoticesRemaining] = crm.FormatInt(item.NoticesRemaining)
		fields[lineitem.FieldNoticesIssued] = crm.FormatInt(item.NoticesIssued)
	}
	if item.BillNow {
		item.BillNow = false
		fields[lineitem.FieldBillNow] = "false"
	}

	if err := o.Client.UpdateLineItem(ctx, item.RecordID, fields); err != nil {
		return extErrors.Wrap(err, "Cannot advance line item counters")
	}
	return nil
}
