// Package crm is the boundary to the external system of record. The store is
// non-transactional and eventually consistent: a write may not be visible to
// the next read. Nothing in this package compensates for that; callers stay
// correct through idempotency keys and monotonic-field guards.
package crm

import (
	"context"
)

// ObjectType enumerates the record types the engine touches.
type ObjectType string

const (
	ObjectContract    ObjectType = "contract"
	ObjectLineItem    ObjectType = "line_item"
	ObjectFulfillment ObjectType = "fulfillment"
	ObjectInvoice     ObjectType = "invoice"
	ObjectContact     ObjectType = "contact"
)

// Fields is the raw string-keyed property bag the store speaks. It only
// exists at this boundary; domain packages consume a typed View instead.
type Fields map[string]string

// Record is one object as returned by the store.
type Record struct {
	ID     string
	Fields Fields
}

// Condition is one equality/comparison clause of a search filter.
type Condition struct {
	Field    string
	Operator string // "eq", "gt", "gte", "lt", "lte", "neq"
	Value    string
}

// Filter narrows a search to one object type.
type Filter struct {
	Conditions []Condition
	Fields     []string // properties to return
	Limit      int
	After      string // pagination cursor, empty for the first page
}

// Page is one slice of search results.
type Page struct {
	Records []Record
	After   string // cursor for the next page, empty when exhausted
}

// Association links two records in the store.
type Association struct {
	ToType ObjectType
	ToID   string
}

// Client is the generic collaborator the engine reads and writes through.
// Implementations must translate transport failures into this package's
// error taxonomy so the retry layer can tell transient from permanent.
type Client interface {
	GetContract(ctx context.Context, id string, fields []string) (*Record, error)
	UpdateContract(ctx context.Context, id string, fields Fields) error
	SearchContracts(ctx context.Context, filter Filter) (*Page, error)

	ListLineItems(ctx context.Context, contractID string, fields []string) ([]Record, error)
	UpdateLineItem(ctx context.Context, id string, fields Fields) error

	SearchFulfillmentRecords(ctx context.Context, filter Filter) (*Page, error)
	CreateFulfillmentRecord(ctx context.Context, fields Fields, assocs []Association) (*Record, error)
	UpdateFulfillmentRecord(ctx context.Context, id string, fields Fields) error

	GetInvoice(ctx context.Context, id string, fields []string) (*Record, error)
	CreateInvoice(ctx context.Context, fields Fields) (*Record, error)
	UpdateInvoice(ctx context.Context, id string, fields Fields) error

	Associate(ctx context.Context, fromType ObjectType, fromID string, toType ObjectType, toID string) error
}
