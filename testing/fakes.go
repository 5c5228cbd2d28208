// Package testing provides in-memory collaborators for testing applications
// built on procurekit: a scriptable procurement gateway, account/policy
// stores, a lookup service, and a fake marketplace notification signer.
package testing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/open-rails/procurekit/procurement"
)

// FakeGateway is an in-memory procurement.Gateway. Entitlements are keyed by
// full resource name; mutating calls are recorded for assertions.
type FakeGateway struct {
	mu           sync.Mutex
	Entitlements map[string]procurement.Entitlement

	// Error injection, one field per call.
	ListErr       error
	GetErr        error
	ApproveErr    error
	RejectErr     error
	MessageErr    error
	PlanChangeErr error

	// Call records.
	LastFilter           string
	Approved             []string
	Rejected             []string
	Comments             []string
	PlanChangeRejections []string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Entitlements: make(map[string]procurement.Entitlement)}
}

// Add registers an entitlement under its name.
func (g *FakeGateway) Add(ent procurement.Entitlement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Entitlements[ent.Name] = ent
}

func (g *FakeGateway) EntitlementName(projectID, entitlementID string) string {
	return "providers/" + projectID + "/entitlements/" + entitlementID
}

func (g *FakeGateway) ListEntitlements(ctx context.Context, projectID string, filter procurement.Filter) ([]procurement.Entitlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	g.LastFilter = filter.Expression()
	states := filter.States
	if len(states) == 0 {
		states = []procurement.EntitlementState{procurement.StateActivationRequested}
	}
	wanted := make(map[procurement.EntitlementState]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}
	var out []procurement.Entitlement
	for _, ent := range g.Entitlements {
		if wanted[ent.State] {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *FakeGateway) GetEntitlement(ctx context.Context, name string) (procurement.Entitlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.GetErr != nil {
		return procurement.Entitlement{}, g.GetErr
	}
	return g.Entitlements[name], nil
}

func (g *FakeGateway) ApproveEntitlement(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ApproveErr != nil {
		return g.ApproveErr
	}
	g.Approved = append(g.Approved, name)
	return nil
}

func (g *FakeGateway) RejectEntitlement(ctx context.Context, name, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RejectErr != nil {
		return g.RejectErr
	}
	g.Rejected = append(g.Rejected, name)
	return nil
}

func (g *FakeGateway) UpdateEntitlementMessage(ctx context.Context, name, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MessageErr != nil {
		return g.MessageErr
	}
	g.Comments = append(g.Comments, name)
	return nil
}

func (g *FakeGateway) RejectPlanChange(ctx context.Context, name, pendingPlan, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PlanChangeErr != nil {
		return g.PlanChangeErr
	}
	g.PlanChangeRejections = append(g.PlanChangeRejections, name+":"+pendingPlan)
	return nil
}

// FakeAccounts is an in-memory procurement.AccountStore.
type FakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]procurement.Account // projectID + "/" + accountID
	GetErr   error
	PutErr   error
	FindErr  error
	Puts     int
}

func NewFakeAccounts() *FakeAccounts {
	return &FakeAccounts{accounts: make(map[string]procurement.Account)}
}

// Seed stores an account without counting as an engine write.
func (s *FakeAccounts) Seed(projectID string, acct procurement.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[projectID+"/"+acct.AccountID] = acct
}

func (s *FakeAccounts) Get(ctx context.Context, projectID, accountID string) (procurement.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return procurement.Account{}, false, s.GetErr
	}
	acct, ok := s.accounts[projectID+"/"+accountID]
	return acct, ok, nil
}

func (s *FakeAccounts) Put(ctx context.Context, projectID string, acct procurement.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.Puts++
	s.accounts[projectID+"/"+acct.AccountID] = acct
	return nil
}

func (s *FakeAccounts) FindByMarketplaceRef(ctx context.Context, projectID, ref string) (procurement.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return procurement.Account{}, false, s.FindErr
	}
	if ref == "" {
		return procurement.Account{}, false, nil
	}
	for key, acct := range s.accounts {
		if acct.MarketplaceRef == ref && key == projectID+"/"+acct.AccountID {
			return acct, true, nil
		}
	}
	return procurement.Account{}, false, nil
}

// FakePolicies is an in-memory procurement.PolicyStore.
type FakePolicies struct {
	mu       sync.Mutex
	policies map[string]procurement.Policy // projectID + "/" + policyID
	FindErr  error
}

func NewFakePolicies() *FakePolicies {
	return &FakePolicies{policies: make(map[string]procurement.Policy)}
}

func (s *FakePolicies) Seed(projectID string, pol procurement.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[projectID+"/"+pol.PolicyID] = pol
}

func (s *FakePolicies) Get(ctx context.Context, projectID, policyID string) (procurement.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pol, ok := s.policies[projectID+"/"+policyID]
	return pol, ok, nil
}

func (s *FakePolicies) FindMarketplacePolicy(ctx context.Context, projectID, solutionID, planID string) (procurement.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return procurement.Policy{}, false, s.FindErr
	}
	// Lowest policy id wins, mirroring the SQL store.
	ids := make([]string, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !strings.HasPrefix(id, projectID+"/") {
			continue
		}
		pol := s.policies[id]
		if pol.Marketplace == nil {
			continue
		}
		if pol.Marketplace.SolutionID == solutionID && pol.Marketplace.PlanID == planID {
			return pol, true, nil
		}
	}
	return procurement.Policy{}, false, nil
}

// FakeLookup is an in-memory procurement.LookupService.
type FakeLookup struct {
	Policies    map[procurement.PlanKey]procurement.PolicyRef
	Accounts    map[string]procurement.AccountRow
	PoliciesErr error
	AccountsErr error
}

func NewFakeLookup() *FakeLookup {
	return &FakeLookup{
		Policies: make(map[procurement.PlanKey]procurement.PolicyRef),
		Accounts: make(map[string]procurement.AccountRow),
	}
}

func (l *FakeLookup) PoliciesByPlan(ctx context.Context, projectID string, keys []procurement.PlanKey) (map[procurement.PlanKey]procurement.PolicyRef, error) {
	if l.PoliciesErr != nil {
		return nil, l.PoliciesErr
	}
	out := make(map[procurement.PlanKey]procurement.PolicyRef, len(keys))
	for _, k := range keys {
		if ref, ok := l.Policies[k]; ok {
			out[k] = ref
		}
	}
	return out, nil
}

func (l *FakeLookup) AccountsByRef(ctx context.Context, projectID string, refs []string) (map[string]procurement.AccountRow, error) {
	if l.AccountsErr != nil {
		return nil, l.AccountsErr
	}
	out := make(map[string]procurement.AccountRow, len(refs))
	for _, ref := range refs {
		if row, ok := l.Accounts[ref]; ok {
			out[ref] = row
		}
	}
	return out, nil
}
