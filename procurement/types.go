package procurement

import "strings"

// EntitlementState identifies where a marketplace entitlement sits in its
// approval lifecycle. Only the two states below have transitions; unknown
// values pass through untouched.
type EntitlementState string

const (
	StateActivationRequested EntitlementState = "ENTITLEMENT_ACTIVATION_REQUESTED"
	StatePendingPlanChange   EntitlementState = "ENTITLEMENT_PENDING_PLAN_CHANGE_APPROVAL"
)

// ParseStates splits a comma-separated state list (e.g. from a query
// parameter) into states. Blank segments are dropped; unknown state names are
// kept as-is so the gateway decides what they mean.
func ParseStates(raw string) []EntitlementState {
	var out []EntitlementState
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, EntitlementState(s))
		}
	}
	return out
}

// PolicyRef is the policy metadata attached to an entitlement during enrichment.
type PolicyRef struct {
	PolicyID    string `json:"policyId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Entitlement represents one marketplace grant. Policy, Email, AccountID and
// Activated are enrichment fields populated in memory per list call; the
// engine never persists entitlements.
type Entitlement struct {
	Name           string           `json:"name"`
	Account        string           `json:"account"` // marketplace account reference, opaque
	Product        string           `json:"product"`
	Plan           string           `json:"plan"`
	State          EntitlementState `json:"state"`
	NewPendingPlan string           `json:"newPendingPlan,omitempty"`
	Policy         *PolicyRef       `json:"policy,omitempty"`
	Email          string           `json:"email,omitempty"`
	AccountID      string           `json:"accountId,omitempty"`
	Activated      bool             `json:"activated"`
}

// MarketplaceInfo ties a policy to a purchasable SKU.
type MarketplaceInfo struct {
	SolutionID        string `json:"solutionId"`
	PlanID            string `json:"planId"`
	EnableAutoApprove bool   `json:"enableAutoApprove"`
}

// Policy is the internal authorization unit. Marketplace is nil for policies
// that are not backed by a marketplace SKU.
type Policy struct {
	PolicyID    string           `json:"policyId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Marketplace *MarketplaceInfo `json:"marketplace,omitempty"`
}

// Account is the internal consumer identity. PolicyIDs has set semantics:
// unique by id, order irrelevant, never blank after an engine mutation.
type Account struct {
	AccountID      string   `json:"accountId"`
	Email          string   `json:"email"`
	MarketplaceRef string   `json:"marketplaceRef,omitempty"`
	PolicyIDs      []string `json:"policies"`
	CreatedBy      string   `json:"createdBy,omitempty"`
}

// HasPolicy reports whether the policy is already associated.
func (a *Account) HasPolicy(policyID string) bool {
	for _, id := range a.PolicyIDs {
		if id == policyID {
			return true
		}
	}
	return false
}

// AddPolicy associates the policy if absent and reports whether the list
// changed.
func (a *Account) AddPolicy(policyID string) bool {
	if strings.TrimSpace(policyID) == "" || a.HasPolicy(policyID) {
		return false
	}
	a.PolicyIDs = append(a.PolicyIDs, policyID)
	return true
}

// RemovePolicy drops the policy from the list. The same pass also drops any
// blank entries left behind by older writers.
func (a *Account) RemovePolicy(policyID string) {
	out := a.PolicyIDs[:0]
	for _, id := range a.PolicyIDs {
		if id == policyID || strings.TrimSpace(id) == "" {
			continue
		}
		out = append(out, id)
	}
	a.PolicyIDs = out
}

// PlanKey addresses a marketplace SKU.
type PlanKey struct {
	SolutionID string
	PlanID     string
}

// AccountRow is a row from the account enrichment view.
type AccountRow struct {
	AccountID string
	Email     string
}
