package crm

import (
	"strconv"

	"github.com/hs-interfase/rebill/clock"
)

// View is the typed, whitelisted window onto a Record's property bag.
// Domain packages construct a View once at the boundary and never touch the
// raw Fields map; a property outside the whitelist reads as absent.
type View struct {
	id     string
	fields Fields
}

// NewView whitelists the given properties of a record. Pass the same list
// that was requested from the store so a silently-dropped property cannot be
// confused with an empty one.
func NewView(rec *Record, whitelist []string) View {
	if rec == nil {
		return View{}
	}
	allowed := make(Fields, len(whitelist))
	for _, name := range whitelist {
		if v, ok := rec.Fields[name]; ok {
			allowed[name] = v
		}
	}
	return View{id: rec.ID, fields: allowed}
}

func (v View) ID() string { return v.id }

// Has reports whether the property is present at all, which is distinct from
// being empty. Presence drives edge-triggered logic like the activation gate.
func (v View) Has(name string) bool {
	_, ok := v.fields[name]
	return ok
}

func (v View) String(name string) string {
	return v.fields[name]
}

func (v View) Bool(name string) bool {
	s := v.fields[name]
	return s == "true" || s == "1" || s == "yes"
}

// BoolPtr preserves the unset/true/false distinction.
func (v View) BoolPtr(name string) *bool {
	s, ok := v.fields[name]
	if !ok || s == "" {
		return nil
	}
	b := s == "true" || s == "1" || s == "yes"
	return &b
}

func (v View) Float(name string) float64 {
	f, err := strconv.ParseFloat(v.fields[name], 64)
	if err != nil {
		return 0
	}
	return f
}

// FloatPtr preserves the unset distinction for numeric fields that must be
// initialized exactly once.
func (v View) FloatPtr(name string) *float64 {
	s, ok := v.fields[name]
	if !ok || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (v View) Int(name string) int {
	n, err := strconv.Atoi(v.fields[name])
	if err != nil {
		return 0
	}
	return n
}

func (v View) Date(name string) clock.Date {
	d, err := clock.ParseDate(v.fields[name])
	if err != nil {
		return clock.Date{}
	}
	return d
}

// -----------------------------------------------
// Field value formatting for writes.

func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func FormatInt(n int) string {
	return strconv.Itoa(n)
}
