// Package recordkey derives the deterministic keys that make fulfillment
// record and invoice creation idempotent against a store without
// transactions. A key identifies one due date of one line item of one
// contract; everything that could be created twice is looked up by key first.
package recordkey

import (
	"strings"

	"github.com/hs-interfase/rebill/clock"
)

// Separator joins the key parts. No part may contain it; ValidPart enforces
// that at the boundary so Make itself can stay infallible.
const Separator = "|"

// Make builds the key for one (contract, line item, due date) triple. The
// same inputs always produce the same string, and distinct triples never
// collide as long as the parts are Separator-free.
func Make(contractID, lineItemKey string, due clock.Date) string {
	return contractID + Separator + lineItemKey + Separator + due.String()
}

// ValidPart reports whether a value may participate in a key.
func ValidPart(part string) bool {
	return part != "" && !strings.Contains(part, Separator)
}

// Matches is the dirty-clone guard. A record reference is only trusted when
// the key stored on the referenced record equals the key we expect; a
// present reference with a mismatched key belongs to some other line item
// (typically a cloned record that inherited a pointer) and must be treated
// as absent.
func Matches(stored, expected string) bool {
	return stored != "" && stored == expected
}
