package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/config"
	"github.com/hs-interfase/rebill/contract"
	"github.com/hs-interfase/rebill/crm"
	"github.com/hs-interfase/rebill/crm/crmtest"
	"github.com/hs-interfase/rebill/fulfillment"
	"github.com/hs-interfase/rebill/invoice"
	"github.com/hs-interfase/rebill/lineitem"
)

func newLedger(t *testing.T, fake *crmtest.Fake) *Ledger {
	t.Helper()
	cfg := config.Default()
	ledger, err := NewLedger(LedgerOptions{
		Client: fake,
		Config: &cfg,
		Clock:  clock.Fixed(clock.NewDate(2024, time.March, 15)),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return ledger
}

func f(v float64) *float64 { return &v }

func b(v bool) *bool { return &v }

func hoursContract(total, consumed, remaining, threshold float64) *contract.Contract {
	return &contract.Contract{
		ID:            "c1",
		Stage:         contract.StageWon,
		BillingActive: b(true),
		Quota: contract.Quota{
			Type:      contract.QuotaHours,
			Total:     f(total),
			Consumed:  f(consumed),
			Remaining: f(remaining),
			Threshold: threshold,
		},
	}
}

func TestStatusOf(t *testing.T) {
	ledger := newLedger(t, crmtest.New())

	tests := []struct {
		name     string
		quota    contract.Quota
		expected Status
	}{
		{"no quota configured", contract.Quota{}, StatusDeactivated},
		{"configured but uninitialized", contract.Quota{Type: contract.QuotaHours, Total: f(100)}, StatusOK},
		{"healthy", hoursContract(100, 20, 80, 10).Quota, StatusOK},
		{"near threshold", hoursContract(100, 92, 8, 10).Quota, StatusNearThreshold},
		{"exhausted", hoursContract(100, 100, 0, 10).Quota, StatusExhausted},
		{"overdrawn is exhausted", hoursContract(100, 105, -5, 10).Quota, StatusExhausted},
		{"broken invariant wins over everything", hoursContract(100, 50, 10, 10).Quota, StatusInconsistent},
		{"epsilon tolerates float dust", hoursContract(100, 50.004, 49.999, 10).Quota, StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ledger.StatusOf(tc.quota))
		})
	}
}

func TestInitialize(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)
	ctx := context.Background()

	fake.Seed(crm.ObjectContract, "c1", crm.Fields{
		contract.FieldStage:         string(contract.StageWon),
		contract.FieldBillingActive: "true",
		contract.FieldQuotaType:     string(contract.QuotaHours),
		contract.FieldQuotaTotal:    "100",
	})
	c := &contract.Contract{
		ID:            "c1",
		Stage:         contract.StageWon,
		BillingActive: b(true),
		Quota:         contract.Quota{Type: contract.QuotaHours, Total: f(100)},
	}

	initialized, err := ledger.Initialize(ctx, c)
	require.NoError(t, err)
	require.True(t, initialized)
	require.Equal(t, 0.0, *c.Quota.Consumed)
	require.Equal(t, 100.0, *c.Quota.Remaining)

	stored := fake.Get(crm.ObjectContract, "c1")
	require.Equal(t, "0", stored[contract.FieldQuotaConsumed])
	require.Equal(t, "100", stored[contract.FieldQuotaRemaining])
	require.Equal(t, string(StatusOK), stored[contract.FieldQuotaStatus])

	// counters already present are never overwritten
	again, err := ledger.Initialize(ctx, c)
	require.NoError(t, err)
	require.False(t, again)
	require.Equal(t, 1, fake.Calls["UpdateContract"])
}

func TestInitializeSkipsInactiveBilling(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)

	c := &contract.Contract{
		ID:    "c1",
		Quota: contract.Quota{Type: contract.QuotaHours, Total: f(100)},
	}
	initialized, err := ledger.Initialize(context.Background(), c)
	require.NoError(t, err)
	require.False(t, initialized)
	require.Nil(t, c.Quota.Consumed)
}

func TestConsume(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)
	ctx := context.Background()

	fake.Seed(crm.ObjectContract, "c1", crm.Fields{})
	fake.Seed(crm.ObjectFulfillment, "ful1", crm.Fields{})

	c := hoursContract(100, 92, 8, 10)
	item := lineitem.LineItem{Key: "item-a", PartOfQuota: true}
	ful := &fulfillment.Record{ID: "ful1", RealHours: 5}
	inv := &invoice.Invoice{ID: "inv1", Key: "c1|item-a|2024-03-15"}

	debited, err := ledger.Consume(ctx, c, item, ful, inv)
	require.NoError(t, err)
	require.Equal(t, 5.0, debited)
	require.Equal(t, 97.0, *c.Quota.Consumed)
	require.Equal(t, 3.0, *c.Quota.Remaining)
	require.Equal(t, string(StatusNearThreshold), c.Quota.Status)
	require.NotEmpty(t, c.Quota.AlertAt)

	stored := fake.Get(crm.ObjectContract, "c1")
	require.Equal(t, "97", stored[contract.FieldQuotaConsumed])
	require.Equal(t, "3", stored[contract.FieldQuotaRemaining])
	require.NotEmpty(t, stored[contract.FieldQuotaAlertAt])

	marker := fake.Get(crm.ObjectFulfillment, "ful1")
	require.Equal(t, inv.Key, marker[fulfillment.FieldQuotaDebitedKey])

	// the same (fulfillment, invoice) pair never debits twice
	debited, err = ledger.Consume(ctx, c, item, ful, inv)
	require.NoError(t, err)
	require.Zero(t, debited)
	require.Equal(t, 97.0, *c.Quota.Consumed)

	// a later debit exhausts the quota but the alert does not re-fire
	fake.Seed(crm.ObjectFulfillment, "ful2", crm.Fields{})
	firstAlert := c.Quota.AlertAt
	ful2 := &fulfillment.Record{ID: "ful2", RealHours: 3}
	inv2 := &invoice.Invoice{ID: "inv2", Key: "c1|item-a|2024-04-15"}
	debited, err = ledger.Consume(ctx, c, item, ful2, inv2)
	require.NoError(t, err)
	require.Equal(t, 3.0, debited)
	require.Equal(t, 0.0, *c.Quota.Remaining)
	require.Equal(t, string(StatusExhausted), c.Quota.Status)
	require.Equal(t, firstAlert, c.Quota.AlertAt)

	// and once exhausted, consumption deactivates silently
	fake.Seed(crm.ObjectFulfillment, "ful3", crm.Fields{})
	ful3 := &fulfillment.Record{ID: "ful3", RealHours: 2}
	inv3 := &invoice.Invoice{ID: "inv3", Key: "c1|item-a|2024-05-15"}
	debited, err = ledger.Consume(ctx, c, item, ful3, inv3)
	require.NoError(t, err)
	require.Zero(t, debited)
	require.Empty(t, fake.Get(crm.ObjectFulfillment, "ful3")[fulfillment.FieldQuotaDebitedKey])
}

func TestConsumeAmountQuota(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)

	fake.Seed(crm.ObjectContract, "c1", crm.Fields{})
	fake.Seed(crm.ObjectFulfillment, "ful1", crm.Fields{})

	c := hoursContract(50000, 0, 50000, 5000)
	c.Quota.Type = contract.QuotaAmount
	item := lineitem.LineItem{Key: "item-a", PartOfQuota: true}
	// real net amount on the record is authoritative, never list price
	ful := &fulfillment.Record{ID: "ful1", RealHours: 99, RealAmount: 1250.75}
	inv := &invoice.Invoice{ID: "inv1", Key: "c1|item-a|2024-03-15"}

	debited, err := ledger.Consume(context.Background(), c, item, ful, inv)
	require.NoError(t, err)
	require.Equal(t, 1250.75, debited)
	require.Equal(t, 48749.25, *c.Quota.Remaining)
}

func TestConsumeSkipsNonQuotaItems(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)

	c := hoursContract(100, 0, 100, 10)
	item := lineitem.LineItem{Key: "item-a", PartOfQuota: false}
	ful := &fulfillment.Record{ID: "ful1", RealHours: 5}
	inv := &invoice.Invoice{ID: "inv1", Key: "k"}

	debited, err := ledger.Consume(context.Background(), c, item, ful, inv)
	require.NoError(t, err)
	require.Zero(t, debited)
	require.Zero(t, fake.Calls["UpdateContract"])
}

func TestConsumeReportsInconsistencyButStillDebits(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)

	fake.Seed(crm.ObjectContract, "c1", crm.Fields{})
	fake.Seed(crm.ObjectFulfillment, "ful1", crm.Fields{})

	// consumed+remaining != total: reported, never repaired
	c := hoursContract(100, 50, 10, 5)
	item := lineitem.LineItem{Key: "item-a", PartOfQuota: true}
	ful := &fulfillment.Record{ID: "ful1", RealHours: 2}
	inv := &invoice.Invoice{ID: "inv1", Key: "c1|item-a|2024-03-15"}

	debited, err := ledger.Consume(context.Background(), c, item, ful, inv)
	require.NoError(t, err)
	require.Equal(t, 2.0, debited)
	require.Equal(t, 52.0, *c.Quota.Consumed)
	require.Equal(t, 8.0, *c.Quota.Remaining)
	require.Equal(t, string(StatusInconsistent), c.Quota.Status)
}

func TestConsumeLedgerWriteFailureIsHard(t *testing.T) {
	fake := crmtest.New()
	ledger := newLedger(t, fake)

	fake.Seed(crm.ObjectContract, "c1", crm.Fields{})
	fake.Seed(crm.ObjectFulfillment, "ful1", crm.Fields{})
	fake.FailOn["UpdateContract"] = crm.ErrFatal("UpdateContract", "store down")

	c := hoursContract(100, 0, 100, 10)
	item := lineitem.LineItem{Key: "item-a", PartOfQuota: true}
	ful := &fulfillment.Record{ID: "ful1", RealHours: 5}
	inv := &invoice.Invoice{ID: "inv1", Key: "c1|item-a|2024-03-15"}

	_, err := ledger.Consume(context.Background(), c, item, ful, inv)
	require.Error(t, err)
}
