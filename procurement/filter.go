package procurement

import "strings"

// Filter selects entitlement states for a gateway listing.
type Filter struct {
	States []EntitlementState
}

// Expression renders the gateway filter string, ORing one state clause per
// requested state. With no states the filter defaults to activation-requested
// entitlements.
func (f Filter) Expression() string {
	states := f.States
	if len(states) == 0 {
		states = []EntitlementState{StateActivationRequested}
	}
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, "state="+string(s))
	}
	return strings.Join(parts, " OR ")
}
