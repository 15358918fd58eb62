// Package crmtest provides an in-memory crm.Client for package tests.
package crmtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hs-interfase/rebill/crm"
)

// Fake is an in-memory record store implementing crm.Client. Zero value is
// not usable; call New.
type Fake struct {
	mu      sync.Mutex
	nextID  int
	objects map[crm.ObjectType]map[string]crm.Fields
	assocs  []string
	items   map[string][]string // contract ID -> line item IDs, in seed order

	// FailOn maps an operation name to an error returned on the next call,
	// consumed once. FailAlways keeps failing.
	FailOn     map[string]error
	FailAlways map[string]error

	// Calls counts operations by name.
	Calls map[string]int
}

func New() *Fake {
	return &Fake{
		nextID: 1000,
		objects: map[crm.ObjectType]map[string]crm.Fields{
			crm.ObjectContract:    {},
			crm.ObjectLineItem:    {},
			crm.ObjectFulfillment: {},
			crm.ObjectInvoice:     {},
			crm.ObjectContact:     {},
		},
		items:      map[string][]string{},
		FailOn:     map[string]error{},
		FailAlways: map[string]error{},
		Calls:      map[string]int{},
	}
}

var _ crm.Client = &Fake{}

// Seed inserts a record with a fixed ID and returns it.
func (f *Fake) Seed(t crm.ObjectType, id string, fields crm.Fields) crm.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(crm.Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.objects[t][id] = cp
	return crm.Record{ID: id, Fields: cp}
}

// SeedLineItem inserts a line item attached to a contract.
func (f *Fake) SeedLineItem(contractID, id string, fields crm.Fields) crm.Record {
	rec := f.Seed(crm.ObjectLineItem, id, fields)
	f.mu.Lock()
	f.items[contractID] = append(f.items[contractID], id)
	f.mu.Unlock()
	return rec
}

// Get returns the current fields of a stored record, nil if absent.
func (f *Fake) Get(t crm.ObjectType, id string) crm.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[t][id]
}

// Count returns how many records of a type exist.
func (f *Fake) Count(t crm.ObjectType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects[t])
}

// Associated reports whether an association was recorded.
func (f *Fake) Associated(fromType crm.ObjectType, fromID string, toType crm.ObjectType, toID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := assocKey(fromType, fromID, toType, toID)
	for _, a := range f.assocs {
		if a == key {
			return true
		}
	}
	return false
}

func assocKey(fromType crm.ObjectType, fromID string, toType crm.ObjectType, toID string) string {
	return fmt.Sprintf("%s:%s->%s:%s", fromType, fromID, toType, toID)
}

func (f *Fake) fail(op string) error {
	f.Calls[op]++
	if err, ok := f.FailOn[op]; ok {
		delete(f.FailOn, op)
		return err
	}
	if err, ok := f.FailAlways[op]; ok {
		return err
	}
	return nil
}

func (f *Fake) get(op string, t crm.ObjectType, id string) (*crm.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(op); err != nil {
		return nil, err
	}
	fields, ok := f.objects[t][id]
	if !ok {
		return nil, crm.ErrNotFound(op, id)
	}
	cp := make(crm.Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &crm.Record{ID: id, Fields: cp}, nil
}

func (f *Fake) update(op string, t crm.ObjectType, id string, fields crm.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(op); err != nil {
		return err
	}
	existing, ok := f.objects[t][id]
	if !ok {
		return crm.ErrNotFound(op, id)
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

func (f *Fake) create(op string, t crm.ObjectType, fields crm.Fields) (*crm.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(op); err != nil {
		return nil, err
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	cp := make(crm.Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.objects[t][id] = cp
	return &crm.Record{ID: id, Fields: cp}, nil
}

func matches(fields crm.Fields, cond crm.Condition) bool {
	v, ok := fields[cond.Field]
	if !ok {
		return false
	}
	switch cond.Operator {
	case "eq", "":
		return v == cond.Value
	case "neq":
		return v != cond.Value
	case "gt":
		return v > cond.Value
	case "gte":
		return v >= cond.Value
	case "lt":
		return v < cond.Value
	case "lte":
		return v <= cond.Value
	}
	return false
}

func (f *Fake) search(op string, t crm.ObjectType, filter crm.Filter) (*crm.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(op); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(f.objects[t]))
	for id := range f.objects[t] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := &crm.Page{}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	for _, id := range ids {
		if filter.After != "" && id <= filter.After {
			continue
		}
		fields := f.objects[t][id]
		ok := true
		for _, cond := range filter.Conditions {
			if !matches(fields, cond) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		cp := make(crm.Fields, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		page.Records = append(page.Records, crm.Record{ID: id, Fields: cp})
		if len(page.Records) == limit {
			page.After = id
			break
		}
	}
	return page, nil
}

// -----------------------------------------------

func (f *Fake) GetContract(ctx context.Context, id string, fields []string) (*crm.Record, error) {
	return f.get("GetContract", crm.ObjectContract, id)
}

func (f *Fake) UpdateContract(ctx context.Context, id string, fields crm.Fields) error {
	return f.update("UpdateContract", crm.ObjectContract, id, fields)
}

func (f *Fake) SearchContracts(ctx context.Context, filter crm.Filter) (*crm.Page, error) {
	return f.search("SearchContracts", crm.ObjectContract, filter)
}

func (f *Fake) ListLineItems(ctx context.Context, contractID string, fields []string) ([]crm.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListLineItems"); err != nil {
		return nil, err
	}
	out := make([]crm.Record, 0, len(f.items[contractID]))
	for _, id := range f.items[contractID] {
		src := f.objects[crm.ObjectLineItem][id]
		cp := make(crm.Fields, len(src))
		for k, v := range src {
			cp[k] = v
		}
		out = append(out, crm.Record{ID: id, Fields: cp})
	}
	return out, nil
}

func (f *Fake) UpdateLineItem(ctx context.Context, id string, fields crm.Fields) error {
	return f.update("UpdateLineItem", crm.ObjectLineItem, id, fields)
}

func (f *Fake) SearchFulfillmentRecords(ctx context.Context, filter crm.Filter) (*crm.Page, error) {
	return f.search("SearchFulfillmentRecords", crm.ObjectFulfillment, filter)
}

func (f *Fake) CreateFulfillmentRecord(ctx context.Context, fields crm.Fields, assocs []crm.Association) (*crm.Record, error) {
	rec, err := f.create("CreateFulfillmentRecord", crm.ObjectFulfillment, fields)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	for _, a := range assocs {
		f.assocs = append(f.assocs, assocKey(crm.ObjectFulfillment, rec.ID, a.ToType, a.ToID))
	}
	f.mu.Unlock()
	return rec, nil
}

func (f *Fake) UpdateFulfillmentRecord(ctx context.Context, id string, fields crm.Fields) error {
	return f.update("UpdateFulfillmentRecord", crm.ObjectFulfillment, id, fields)
}

func (f *Fake) GetInvoice(ctx context.Context, id string, fields []string) (*crm.Record, error) {
	return f.get("GetInvoice", crm.ObjectInvoice, id)
}

func (f *Fake) CreateInvoice(ctx context.Context, fields crm.Fields) (*crm.Record, error) {
	return f.create("CreateInvoice", crm.ObjectInvoice, fields)
}

func (f *Fake) UpdateInvoice(ctx context.Context, id string, fields crm.Fields) error {
	return f.update("UpdateInvoice", crm.ObjectInvoice, id, fields)
}

func (f *Fake) Associate(ctx context.Context, fromType crm.ObjectType, fromID string, toType crm.ObjectType, toID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Associate"); err != nil {
		return err
	}
	f.assocs = append(f.assocs, assocKey(fromType, fromID, toType, toID))
	return nil
}
