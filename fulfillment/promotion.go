package fulfillment

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/lineitem"
	"github.com/hs-interfase/rebill/recordkey"
)

// Outcome tells the caller what the promotion pass did.
type Outcome string

const (
	OutcomePromoted      Outcome = "promoted"
	OutcomeAlreadyReady  Outcome = "already_ready"
	OutcomeMissing       Outcome = "missing"
	OutcomeForeignStage  Outcome = "foreign_stage"
	OutcomeOutsideWindow Outcome = "outside_window"
)

type PromoterOptions struct {
	Client crm.Client
	Config *config.Config
	Clock  *clock.Clock
	Logger *zap.Logger
}

// Promoter moves forecast-stage records into the ready stage once their due
// date enters the lookahead window. Applies to manually-fulfilled line items
// only.
type Promoter struct {
	PromoterOptions
}

func NewPromoter(option PromoterOptions) (*Promoter, error) {
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
	return &Promoter{
		PromoterOptions: option,
	}, nil
}

// Promote transitions the forecast record for (contract, line item, due) to
// ready, exactly once. The guard ladder, in order: a missing forecast is
// reported and left alone (it signals a data-integrity problem upstream), an
// already-ready record is a no-op, and a record in any other stage belongs
// to another flow and is not touched. Stage transitions are monotonic;
// nothing here ever moves a record backward.
func (p *Promoter) Promote(ctx context.Context, contractID string, item *lineitem.LineItem, due clock.Date, partyIDs []string) (Outcome, error) {
	today := p.Clock.Today()
	if today.DaysUntil(due) > p.Config.LookaheadDays {
		return OutcomeOutsideWindow, nil
	}

	key := recordkey.Make(contractID, item.Key, due)
	logger := p.Logger.With(
		zap.String("ContractID", contractID),
		zap.String("LineItemKey", item.Key),
		zap.String("FulfillmentKey", key),
	)

	var rec *Record
	err := crm.Do(ctx, logger, p.Config.Retry, crm.IsTransient, func() error {
		var lookupErr error
		rec, lookupErr = FindByKey(ctx, p.Client, key)
		return lookupErr
	})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot look up forecast record")
	}

	switch {
	case rec == nil:
		logger.Warn("No forecast record found for due date inside lookahead window")
		return OutcomeMissing, nil
	case rec.Stage == p.Config.Stages.Ready:
		return OutcomeAlreadyReady, nil
	case rec.Stage != p.Config.Stages.Forecast:
		logger.Info("Record is in a foreign stage, leaving untouched",
			zap.String("Stage", rec.Stage),
		)
		return OutcomeForeignStage, nil
	}

	if err := p.Client.UpdateFulfillmentRecord(ctx, rec.ID, crm.Fields{
		FieldStage:      p.Config.Stages.Ready,
		FieldExpectedAt: due.String(),
	}); err != nil {
		return "", extErrors.Wrap(err, "Cannot promote forecast record to ready")
	}

	// The contract/line-item/party links were deliberately not created at
	// forecast time, to keep far-future placeholders off the contract's
	// visible record list. They attach now.
	if err := p.associate(ctx, rec.ID, contractID, item.RecordID, partyIDs); err != nil {
		return "", err
	}

	if err := p.SyncPointers(ctx, contractID, item, due); err != nil {
		return "", err
	}

	logger.Info("Promoted forecast record to ready")
	return OutcomePromoted, nil
}

func (p *Promoter) associate(ctx context.Context, recordID, contractID, lineItemID string, partyIDs []string) error {
	if err := p.Client.Associate(ctx, crm.ObjectFulfillment, recordID, crm.ObjectContract, contractID); err != nil {
		return extErrors.Wrap(err, "Cannot associate record with contract")
	}
	if lineItemID != "" {
		if err := p.Client.Associate(ctx, crm.ObjectFulfillment, recordID, crm.ObjectLineItem, lineItemID); err != nil {
			return extErrors.Wrap(err, "Cannot associate record with line item")
		}
	}
	for _, partyID := range partyIDs {
		if err := p.Client.Associate(ctx, crm.ObjectFulfillment, recordID, crm.ObjectContact, partyID); err != nil {
			return extErrors.Wrap(err, "Cannot associate record with related party")
		}
	}
	return nil
}

// SyncPointers advances the line item's last-fulfilled pointer and
// recomputes its next-forecast pointer after a fulfillment. Last-fulfilled
// is monotonic: repeated syncs never move it backward. Next is the nearest
// later forecast record across both the manual and automatic pipelines, and
// may never equal last; if the nearest candidate lands on last, the search
// repeats strictly after it.
func (p *Promoter) SyncPointers(ctx context.Context, contractID string, item *lineitem.LineItem, fulfilled clock.Date) error {
	newLast := clock.MaxDate(item.LastFulfilled, fulfilled)

	next, err := p.findNextForecast(ctx, contractID, item.Key, newLast, false)
	if err != nil {
		return extErrors.Wrap(err, "Cannot search for next forecast record")
	}
	if next != nil && next.Equal(newLast) {
		next, err = p.findNextForecast(ctx, contractID, item.Key, newLast, true)
		if err != nil {
			return extErrors.Wrap(err, "Cannot search strictly after last fulfilled")
		}
	}

	fields := crm.Fields{}
	if newLast.After(item.LastFulfilled) {
		fields[lineitem.FieldLastFulfilled] = newLast.String()
		item.LastFulfilled = newLast
	}
	if next != nil {
		fields[lineitem.FieldNextFulfillment] = next.String()
		item.NextFulfillment = *next
	} else {
		fields[lineitem.FieldNextFulfillment] = ""
		item.NextFulfillment = clock.Date{}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := p.Client.UpdateLineItem(ctx, item.RecordID, fields); err != nil {
		return extErrors.Wrap(err, "Cannot update line item pointers")
	}
	return nil
}

// findNextForecast returns the earliest forecast-stage due date after the
// given floor, checking the manual and automatic pipelines independently and
// picking the earlier of the two.
func (p *Promoter) findNextForecast(ctx context.Context, contractID, lineItemKey string, floor clock.Date, strict bool) (*clock.Date, error) {
	op := "gte"
	if strict {
		op = "gt"
	}
	var best *clock.Date
	for _, pipeline := range []string{p.Config.Pipelines.Manual, p.Config.Pipelines.Automatic} {
		page, err := p.Client.SearchFulfillmentRecords(ctx, crm.Filter{
			Conditions: []crm.Condition{
				{Field: FieldContractID, Operator: "eq", Value: contractID},
				{Field: FieldLineItemKey, Operator: "eq", Value: lineItemKey},
				{Field: FieldPipeline, Operator: "eq", Value: pipeline},
				{Field: FieldStage, Operator: "eq", Value: p.Config.Stages.Forecast},
				{Field: FieldDueDate, Operator: op, Value: floor.String()},
			},
			Fields: []string{FieldDueDate},
			Limit:  100,
		})
		if err != nil {
			return nil, err
		}
		for i := range page.Records {
			rec := FromRecord(&page.Records[i])
			if rec.DueDate.IsZero() {
				continue
			}
			if best == nil || rec.DueDate.Before(*best) {
				d := rec.DueDate
				best = &d
			}
		}
	}
	return best, nil
}
