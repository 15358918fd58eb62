// Package contract is the typed view over contract records in the external
// store.
package contract

import (
	"context"

	"github.com/hs-interfase/rebill/clock"
	"github.com/hs-interfase/rebill/crm"
)

// Stage is the lifecycle stage of a contract in the store.
type Stage string

const (
	StageNew         Stage = "new"
	StageNegotiation Stage = "negotiation"
	StageWon         Stage = "closed_won"
	StageCancelled   Stage = "cancelled"
)

// QuotaType selects what unit a contract's consumable capacity is measured in.
type QuotaType string

const (
	QuotaNone   QuotaType = ""
	QuotaHours  QuotaType = "hours"
	QuotaAmount QuotaType = "amount"
)

// Store property names for contracts.
const (
	FieldKey             = "contract_key"
	FieldStage           = "lifecycle_stage"
	FieldBillingActive   = "billing_active"
	FieldQuotaType       = "quota_type"
	FieldQuotaTotal      = "quota_total"
	FieldQuotaConsumed   = "quota_consumed"
	FieldQuotaRemaining  = "quota_remaining"
	FieldQuotaThreshold  = "quota_alert_threshold"
	FieldQuotaAlertAt    = "quota_alert_fired_at"
	FieldQuotaStatus     = "quota_status"
	FieldMirrorID        = "mirror_contract_id"
	FieldMirrorKey       = "mirror_contract_key"
	FieldNextBillingDate = "next_billing_date"
	FieldLastBillingDate = "last_billing_date"
)

// Fields is the read whitelist for contract records.
func Fields() []string {
	return []string{
		FieldKey, FieldStage, FieldBillingActive,
		FieldQuotaType, FieldQuotaTotal, FieldQuotaConsumed,
		FieldQuotaRemaining, FieldQuotaThreshold, FieldQuotaAlertAt,
		FieldQuotaStatus, FieldMirrorID, FieldMirrorKey,
		FieldNextBillingDate, FieldLastBillingDate,
	}
}

// Quota is the consumable-capacity configuration on a contract. Total,
// Consumed and Remaining are pointers because "unset" and "zero" mean
// different things: initialization happens exactly once, only when unset.
type Quota struct {
	Type      QuotaType
	Total     *float64
	Consumed  *float64
	Remaining *float64
	Threshold float64
	AlertAt   string // store timestamp; empty means the alert never fired
	Status    string
}

// Configured reports whether the contract has a quota at all.
func (q Quota) Configured() bool {
	return q.Type == QuotaHours || q.Type == QuotaAmount
}

// Initialized reports whether both counters carry values.
func (q Quota) Initialized() bool {
	return q.Consumed != nil && q.Remaining != nil
}

type Contract struct {
	ID    string
	Key   string
	Stage Stage

	// BillingActive is tri-state: nil means the field has never been set,
	// which is what the activation gate keys off.
	BillingActive *bool

	Quota Quota

	// Mirror reference for cross-region duplication. The two sides are
	// independent entities, each validated with its own id + expected-key
	// check; never a bidirectional object graph.
	MirrorID  string
	MirrorKey string

	// Denormalized reporting dates, refreshed every schedule pass.
	NextBillingDate clock.Date
	LastBillingDate clock.Date
}

// FromRecord builds the typed contract from a raw store record. Properties
// outside the whitelist are invisible to the rest of the engine.
func FromRecord(rec *crm.Record) Contract {
	v := crm.NewView(rec, Fields())
	return Contract{
		ID:            v.ID(),
		Key:           v.String(FieldKey),
		Stage:         Stage(v.String(FieldStage)),
		BillingActive: v.BoolPtr(FieldBillingActive),
		Quota: Quota{
			Type:      QuotaType(v.String(FieldQuotaType)),
			Total:     v.FloatPtr(FieldQuotaTotal),
			Consumed:  v.FloatPtr(FieldQuotaConsumed),
			Remaining: v.FloatPtr(FieldQuotaRemaining),
			Threshold: v.Float(FieldQuotaThreshold),
			AlertAt:   v.String(FieldQuotaAlertAt),
			Status:    v.String(FieldQuotaStatus),
		},
		MirrorID:        v.String(FieldMirrorID),
		MirrorKey:       v.String(FieldMirrorKey),
		NextBillingDate: v.Date(FieldNextBillingDate),
		LastBillingDate: v.Date(FieldLastBillingDate),
	}
}

func (c Contract) Won() bool {
	return c.Stage == StageWon
}

func (c Contract) Cancelled() bool {
	return c.Stage == StageCancelled
}

// BillingOn reports whether billing has been explicitly turned on.
func (c Contract) BillingOn() bool {
	return c.BillingActive != nil && *c.BillingActive
}

// AlertFired reports whether the quota threshold alert already fired.
func (c Contract) AlertFired() bool {
	return c.Quota.AlertAt != ""
}

// Mirror is an external collaborator that duplicates a contract into a
// secondary region. The engine only triggers it; the mechanics are not its
// concern.
type Mirror interface {
	MirrorContract(ctx context.Context, c Contract) error
}
