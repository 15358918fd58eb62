package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/contract"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/crm/crmtest"
	"github.com/hs-interfase/rebill/lineitem"
)

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]string{}}
}

func (m *memoryLocker) Acquire(name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.held[name]; taken {
		return "", false, nil
	}
	m.held[name] = "token"
	return "token", true, nil
}

func (m *memoryLocker) Release(name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

type memoryJournal struct {
	mu          sync.Mutex
	deadLetters []string
	runs        int
}

func (m *memoryJournal) RecordDeadLetter(ctx context.Context, runID, contractID, phase, reason, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, contractID+"/"+phase+"/"+kind)
	return nil
}

func (m *memoryJournal) RecordRun(ctx context.Context, runID string, started, finished time.Time, processed, failed, promoted, invoicesEmitted int, dryRun bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return nil
}

func newSweeper(t *testing.T, fake *crmtest.Fake, locker Locker, journal Journal) *Sweeper {
	t.Helper()
	o := newOrchestrator(t, fake)
	o.Config.SweepPace = time.Millisecond
	s, err := NewSweeper(SweeperOptions{
		Orchestrator: o,
		Logger:       zap.NewNop(),
		Locker:       locker,
		Journal:      journal,
	})
	require.NoError(t, err)
	return s
}

func seedBillableContract(fake *crmtest.Fake, id string) {
	fake.Seed(crm.ObjectContract, id, crm.Fields{
		contract.FieldKey:           "key-" + id,
		contract.FieldStage:         string(contract.StageWon),
		contract.FieldBillingActive: "true",
	})
	fake.SeedLineItem(id, "li-"+id, crm.Fields{
		lineitem.FieldKey:       "item-" + id,
		lineitem.FieldFrequency: "monthly",
		lineitem.FieldStartDate: "2024-01-15", // due on the fixed test day
		lineitem.FieldAutomatic: "true",
		lineitem.FieldNetAmount: "100",
	})
}

func TestSweepProcessesAllContracts(t *testing.T) {
	fake := crmtest.New()
	journal := &memoryJournal{}
	s := newSweeper(t, fake, newMemoryLocker(), journal)

	seedBillableContract(fake, "c1")
	seedBillableContract(fake, "c2")
	fake.Seed(crm.ObjectContract, "c3", crm.Fields{
		contract.FieldStage: string(contract.StageCancelled),
	})

	summary, err := s.Run(context.Background(), SweepOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Zero(t, summary.Failed)
	require.Equal(t, 2, summary.InvoicesEmitted)
	require.Equal(t, 2, fake.Count(crm.ObjectInvoice))
	require.Equal(t, 1, journal.runs)
}

func TestSweepOnceStopsAfterFirstContract(t *testing.T) {
	fake := crmtest.New()
	s := newSweeper(t, fake, nil, nil)

	seedBillableContract(fake, "c1")
	seedBillableContract(fake, "c2")

	summary, err := s.Run(context.Background(), SweepOptions{Once: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, fake.Count(crm.ObjectInvoice))
}

func TestSweepSingleContract(t *testing.T) {
	fake := crmtest.New()
	s := newSweeper(t, fake, nil, nil)

	seedBillableContract(fake, "c1")
	seedBillableContract(fake, "c2")

	summary, err := s.Run(context.Background(), SweepOptions{ContractID: "c2"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.InvoicesEmitted)
	require.Equal(t, 1, fake.Count(crm.ObjectInvoice))
	// the untargeted contract was left alone
	require.NotContains(t, fake.Get(crm.ObjectLineItem, "li-c1"), lineitem.FieldLastFulfilled)
}

func TestSweepLockContention(t *testing.T) {
	fake := crmtest.New()
	locker := newMemoryLocker()
	s := newSweeper(t, fake, locker, nil)

	_, ok, err := locker.Acquire(LockName)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Run(context.Background(), SweepOptions{})
	require.Error(t, err)
}

func TestSweepDeadLettersFailedContract(t *testing.T) {
	fake := crmtest.New()
	journal := &memoryJournal{}
	s := newSweeper(t, fake, nil, journal)

	summary, err := s.Run(context.Background(), SweepOptions{ContractID: "missing"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, journal.deadLetters, 1)
	require.Equal(t, "missing/resolve/not_found", journal.deadLetters[0])
}

func TestSweepDryRunWritesNothing(t *testing.T) {
	fake := crmtest.New()
	journal := &memoryJournal{}
	s := newSweeper(t, fake, nil, journal)

	seedBillableContract(fake, "c1")

	summary, err := s.Run(context.Background(), SweepOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.InvoicesEmitted)
	require.Zero(t, fake.Count(crm.ObjectInvoice))
	// dry runs are not journaled
	require.Zero(t, journal.runs)
}
