package contract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hs-interfase/rebill/crm"
)

func TestFromRecordTriStateBillingActive(t *testing.T) {
	t.Run("absent means never set", func(t *testing.T) {
		c := FromRecord(&crm.Record{ID: "c1", Fields: crm.Fields{
			FieldStage: string(StageWon),
		}})
		require.Nil(t, c.BillingActive)
		require.False(t, c.BillingOn())
	})

	t.Run("explicit false is not the same as unset", func(t *testing.T) {
		c := FromRecord(&crm.Record{ID: "c1", Fields: crm.Fields{
			FieldBillingActive: "false",
		}})
		require.NotNil(t, c.BillingActive)
		require.False(t, *c.BillingActive)
		require.False(t, c.BillingOn())
	})

	t.Run("explicit true", func(t *testing.T) {
		c := FromRecord(&crm.Record{ID: "c1", Fields: crm.Fields{
			FieldBillingActive: "true",
		}})
		require.True(t, c.BillingOn())
	})
}

func TestFromRecordQuota(t *testing.T) {
	c := FromRecord(&crm.Record{ID: "c1", Fields: crm.Fields{
		FieldQuotaType:      "hours",
		FieldQuotaTotal:     "100",
		FieldQuotaThreshold: "10",
	}})
	require.Equal(t, QuotaHours, c.Quota.Type)
	require.True(t, c.Quota.Configured())
	require.False(t, c.Quota.Initialized())
	require.NotNil(t, c.Quota.Total)
	require.Equal(t, 100.0, *c.Quota.Total)
	// counters left unset must stay nil so initialization happens exactly once
	require.Nil(t, c.Quota.Consumed)
	require.Nil(t, c.Quota.Remaining)
	require.False(t, c.AlertFired())
}

func TestStageHelpers(t *testing.T) {
	require.True(t, Contract{Stage: StageWon}.Won())
	require.False(t, Contract{Stage: StageNegotiation}.Won())
	require.True(t, Contract{Stage: StageCancelled}.Cancelled())
}
