package orchestrator

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/contract"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/lineitem"
)

// LockName is the mutual-exclusion lock shared by all sweep runs.
const LockName = "billing-sweep"

// Locker serializes sweep runs. A lock carries a TTL so an abandoned one is
// reclaimed instead of blocking sweeps forever.
type Locker interface {
	Acquire(name string) (token string, ok bool, err error)
	Release(name, token string) error
}

// Journal persists per-run bookkeeping: contracts that failed their pass
// (dead letters, for manual reprocessing) and the run summary. Optional.
type Journal interface {
	RecordDeadLetter(ctx context.Context, runID, contractID, phase, reason, kind string) error
	RecordRun(ctx context.Context, runID string, started, finished time.Time, processed, failed, promoted, invoicesEmitted int, dryRun bool) error
}

type SweeperOptions struct {
	Orchestrator *Orchestrator
	Logger       *zap.Logger

	// Locker and Journal are optional; a nil Locker means runs are not
	// serialized (single-contract invocations, tests).
	Locker  Locker
	Journal Journal
}

// Sweeper drives the batch pass: paginate eligible contracts, process each
// to completion, pace between them, and stop at the deadline. Contracts are
// independent; one broken contract never halts the sweep.
type Sweeper struct {
	SweeperOptions
}

func NewSweeper(option SweeperOptions) (*Sweeper, error) {
	if option.Orchestrator == nil {
		return nil, fmt.Errorf("nil Orchestrator is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Sweeper{
		SweeperOptions: option,
	}, nil
}

type SweepOptions struct {
	// ContractID processes a single contract instead of paginating.
	ContractID string
	// DryRun computes everything but writes nothing to the store.
	DryRun bool
	// Once stops after the first eligible contract, for testing.
	Once bool
	// MaxRuntime is the wall-clock deadline; once exceeded no new contract
	// is started. Zero means unbounded.
	MaxRuntime time.Duration
}

type SweepSummary struct {
	RunID           string
	Started         time.Time
	Finished        time.Time
	Processed       int
	Failed          int
	Promoted        int
	InvoicesEmitted int
	DryRun          bool
	DeadlineHit     bool
}

// Run executes one sweep.
func (s *Sweeper) Run(ctx context.Context, opt SweepOptions) (*SweepSummary, error) {
	o := s.Orchestrator
	if opt.DryRun {
		var err error
		if o, err = o.DryRun(); err != nil {
			return nil, err
		}
	}

	summary := &SweepSummary{
		RunID:   uuid.New().String(),
		Started: time.Now(),
		DryRun:  opt.DryRun,
	}
	logger := s.Logger.With(zap.String("RunID", summary.RunID))

	if s.Locker != nil {
		token, ok, err := s.Locker.Acquire(LockName)
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot acquire sweep lock")
		}
		if !ok {
			return nil, fmt.Errorf("another sweep holds the lock")
		}
		defer func() {
			if err := s.Locker.Release(LockName, token); err != nil {
				logger.Warn("Cannot release sweep lock",
					zap.Error(err),
				)
			}
		}()
	}

	var deadline time.Time
	if opt.MaxRuntime > 0 {
		deadline = summary.Started.Add(opt.MaxRuntime)
	}

	if opt.ContractID != "" {
		s.processContract(ctx, logger, o, opt.ContractID, summary)
	} else {
		s.sweepAll(ctx, logger, o, opt, deadline, summary)
	}

	summary.Finished = time.Now()
	logger.Info("Sweep finished",
		zap.Int("Processed", summary.Processed),
		zap.Int("Failed", summary.Failed),
		zap.Int("Promoted", summary.Promoted),
		zap.Int("InvoicesEmitted", summary.InvoicesEmitted),
		zap.Bool("DeadlineHit", summary.DeadlineHit),
		zap.Duration("Elapsed", summary.Finished.Sub(summary.Started)),
	)

	if s.Journal != nil && !opt.DryRun {
		if err := s.Journal.RecordRun(ctx, summary.RunID, summary.Started, summary.Finished,
			summary.Processed, summary.Failed, summary.Promoted, summary.InvoicesEmitted, opt.DryRun); err != nil {
			logger.Warn("Cannot record sweep run",
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

func (s *Sweeper) sweepAll(ctx context.Context, logger *zap.Logger, o *Orchestrator, opt SweepOptions, deadline time.Time, summary *SweepSummary) {
	cfg := o.Config
	after := ""
	for {
		page, err := o.Client.SearchContracts(ctx, crm.Filter{
			Conditions: []crm.Condition{
				{Field: contract.FieldStage, Operator: "neq", Value: string(contract.StageCancelled)},
			},
			Fields: contract.Fields(),
			Limit:  cfg.SweepPageSize,
			After:  after,
		})
		if err != nil {
			logger.Error("Cannot search eligible contracts, aborting sweep",
				zap.Error(err),
			)
			return
		}
		for i := range page.Records {
			if !deadline.IsZero() && time.Now().After(deadline) {
				summary.DeadlineHit = true
				logger.Warn("Sweep deadline exceeded, not starting new contracts")
				return
			}
			if ctx.Err() != nil {
				return
			}

			c := contract.FromRecord(&page.Records[i])
			s.runOne(ctx, logger, o, c, summary)

			if opt.Once {
				return
			}

			// pacing between contracts, for the store's rate limits
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.SweepPace):
			}
		}
		if page.After == "" {
			return
		}
		after = page.After
	}
}

// processContract resolves one contract by id and runs its pass. Used for
// the single-contract override and change-notification handling.
func (s *Sweeper) processContract(ctx context.Context, logger *zap.Logger, o *Orchestrator, contractID string, summary *SweepSummary) {
	var rec *crm.Record
	err := crm.Do(ctx, logger, o.Config.Retry, crm.IsTransient, func() error {
		var getErr error
		rec, getErr = o.Client.GetContract(ctx, contractID, contract.Fields())
		return getErr
	})
	if err != nil {
		// cannot resolve the contract at all: abort this contract's pass only
		logger.Error("Cannot resolve contract",
			zap.String("ContractID", contractID),
			zap.Error(err),
		)
		summary.Failed++
		s.deadLetter(ctx, logger, summary.RunID, contractID, "resolve", err)
		return
	}
	s.runOne(ctx, logger, o, contract.FromRecord(rec), summary)
}

func (s *Sweeper) runOne(ctx context.Context, logger *zap.Logger, o *Orchestrator, c contract.Contract, summary *SweepSummary) {
	summary.Processed++
	logger = logger.With(zap.String("ContractID", c.ID))

	var itemRecords []crm.Record
	err := crm.Do(ctx, logger, o.Config.Retry, crm.IsTransient, func() error {
		var listErr error
		itemRecords, listErr = o.Client.ListLineItems(ctx, c.ID, lineitem.Fields())
		return listErr
	})
	if err != nil {
		logger.Error("Cannot list line items",
			zap.Error(err),
		)
		summary.Failed++
		s.deadLetter(ctx, logger, summary.RunID, c.ID, "resolve", err)
		return
	}
	items := make([]lineitem.LineItem, 0, len(itemRecords))
	for i := range itemRecords {
		items = append(items, lineitem.FromRecord(&itemRecords[i]))
	}

	result := o.RunPhasesForContract(ctx, c, items)
	summary.Promoted += result.Promoted
	summary.InvoicesEmitted += result.InvoicesEmitted

	if len(result.Errors) > 0 {
		summary.Failed++
		for _, pe := range result.Errors {
			logger.Warn("Contract pass reported error",
				zap.String("Detail", pe.String()),
			)
			s.deadLetterPhase(ctx, logger, summary.RunID, c.ID, pe)
		}
	}
}

func (s *Sweeper) deadLetter(ctx context.Context, logger *zap.Logger, runID, contractID, phase string, err error) {
	if s.Journal == nil {
		return
	}
	kind := crm.KindOf(err).String()
	if jErr := s.Journal.RecordDeadLetter(ctx, runID, contractID, phase, err.Error(), kind); jErr != nil {
		logger.Warn("Cannot record dead letter",
			zap.Error(jErr),
		)
	}
}

func (s *Sweeper) deadLetterPhase(ctx context.Context, logger *zap.Logger, runID, contractID string, pe PhaseError) {
	if s.Journal == nil {
		return
	}
	kind := crm.KindOf(pe.Err).String()
	reason := pe.String()
	if jErr := s.Journal.RecordDeadLetter(ctx, runID, contractID, pe.Phase, reason, kind); jErr != nil {
		logger.Warn("Cannot record dead letter",
			zap.Error(jErr),
		)
	}
}
