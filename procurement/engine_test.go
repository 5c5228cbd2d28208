package procurement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/open-rails/procurekit/procurement"
	proctest "github.com/open-rails/procurekit/testing"
)

type engineFixture struct {
	gw       *proctest.FakeGateway
	accounts *proctest.FakeAccounts
	policies *proctest.FakePolicies
	lookup   *proctest.FakeLookup
	engine   *procurement.Engine
}

func newFixture() *engineFixture {
	f := &engineFixture{
		gw:       proctest.NewFakeGateway(),
		accounts: proctest.NewFakeAccounts(),
		policies: proctest.NewFakePolicies(),
		lookup:   proctest.NewFakeLookup(),
	}
	f.engine = procurement.NewEngine(f.gw, f.accounts, f.policies, f.lookup, nil)
	return f
}

func TestListProcurements_EnrichesAndActivates(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
	})
	f.lookup.Policies[procurement.PlanKey{SolutionID: "X", PlanID: "Y"}] = procurement.PolicyRef{
		PolicyID: "pol-1", Name: "Premium", Description: "premium plan",
	}
	f.lookup.Accounts["acct-1"] = procurement.AccountRow{AccountID: "a1", Email: "u@x.com"}

	ents, err := f.engine.ListProcurements(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("ListProcurements: %v", err)
	}
	if len(ents) != 1 {
		t.Fatalf("expected 1 entitlement, got %d", len(ents))
	}
	got := ents[0]
	if got.Policy == nil || got.Policy.PolicyID != "pol-1" {
		t.Errorf("expected policy pol-1 attached, got %+v", got.Policy)
	}
	if got.AccountID != "a1" || got.Email != "u@x.com" {
		t.Errorf("expected account enrichment, got accountId=%q email=%q", got.AccountID, got.Email)
	}
	if !got.Activated {
		t.Error("expected activated=true when both policy and account resolved")
	}
	if f.gw.LastFilter != "state=ENTITLEMENT_ACTIVATION_REQUESTED" {
		t.Errorf("expected default filter, got %q", f.gw.LastFilter)
	}
}

func TestListProcurements_NoAccountRow(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-unknown",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
		// Gateway claims it is activated; enrichment must reset this.
		Activated: true,
	})
	f.lookup.Policies[procurement.PlanKey{SolutionID: "X", PlanID: "Y"}] = procurement.PolicyRef{PolicyID: "pol-1"}

	ents, err := f.engine.ListProcurements(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("ListProcurements: %v", err)
	}
	got := ents[0]
	if got.Policy == nil {
		t.Error("expected policy attached")
	}
	if got.Activated {
		t.Error("expected activated=false without an account row")
	}
	if got.Email != "" || got.AccountID != "" {
		t.Errorf("expected no account fields, got email=%q accountId=%q", got.Email, got.AccountID)
	}
}

func TestListProcurements_NoPolicyMeansNeverActivated(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "unknown-plan",
		State:   procurement.StateActivationRequested,
	})
	f.lookup.Accounts["acct-1"] = procurement.AccountRow{AccountID: "a1", Email: "u@x.com"}

	ents, err := f.engine.ListProcurements(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("ListProcurements: %v", err)
	}
	got := ents[0]
	if got.Policy != nil {
		t.Errorf("expected no policy, got %+v", got.Policy)
	}
	if got.AccountID != "a1" {
		t.Errorf("expected account enrichment regardless of policy, got %q", got.AccountID)
	}
	if got.Activated {
		t.Error("expected activated=false without a policy")
	}
}

func TestListProcurements_ExplicitStateFilter(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:  "providers/p1/entitlements/ent-1",
		State: procurement.StatePendingPlanChange,
	})
	f.gw.Add(procurement.Entitlement{
		Name:  "providers/p1/entitlements/ent-2",
		State: procurement.StateActivationRequested,
	})

	states := []procurement.EntitlementState{
		procurement.StateActivationRequested,
		procurement.StatePendingPlanChange,
	}
	ents, err := f.engine.ListProcurements(context.Background(), "p1", states)
	if err != nil {
		t.Fatalf("ListProcurements: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected both entitlements, got %d", len(ents))
	}
	want := "state=ENTITLEMENT_ACTIVATION_REQUESTED OR state=ENTITLEMENT_PENDING_PLAN_CHANGE_APPROVAL"
	if f.gw.LastFilter != want {
		t.Errorf("filter mismatch:\ngot:  %q\nwant: %q", f.gw.LastFilter, want)
	}
}

func TestListProcurements_LookupFailureFailsWhole(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
	})
	f.lookup.AccountsErr = errors.New("view unavailable")

	if _, err := f.engine.ListProcurements(context.Background(), "p1", nil); err == nil {
		t.Fatal("expected error when account lookup fails")
	}
}

func TestApproveEntitlement_Approve(t *testing.T) {
	f := newFixture()
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com"})

	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusApprove,
		AccountID: "a1",
		PolicyID:  "pol-1",
		State:     procurement.StateActivationRequested,
	})
	if err != nil {
		t.Fatalf("ApproveEntitlement: %v", err)
	}
	if out.Kind != procurement.OutcomeApproved {
		t.Errorf("expected approved outcome, got %q", out.Kind)
	}
	if len(f.gw.Approved) != 1 {
		t.Fatalf("expected one gateway approval, got %d", len(f.gw.Approved))
	}
	acct, ok, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if !ok {
		t.Fatal("account vanished")
	}
	if len(acct.PolicyIDs) != 1 || acct.PolicyIDs[0] != "pol-1" {
		t.Errorf("expected policies [pol-1], got %v", acct.PolicyIDs)
	}
	if acct.CreatedBy != "u@x.com" {
		t.Errorf("expected createdBy set to account email, got %q", acct.CreatedBy)
	}
}

func TestApproveEntitlement_ApproveIdempotent(t *testing.T) {
	f := newFixture()
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com"})
	req := procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusApprove,
		AccountID: "a1",
		PolicyID:  "pol-1",
		State:     procurement.StateActivationRequested,
	}

	for i := 0; i < 2; i++ {
		if _, err := f.engine.ApproveEntitlement(context.Background(), req); err != nil {
			t.Fatalf("approve #%d: %v", i+1, err)
		}
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if len(acct.PolicyIDs) != 1 {
		t.Errorf("expected exactly one occurrence of pol-1, got %v", acct.PolicyIDs)
	}
	if f.accounts.Puts != 1 {
		t.Errorf("expected second approval to skip the write, got %d writes", f.accounts.Puts)
	}
}

func TestApproveEntitlement_Reject(t *testing.T) {
	f := newFixture()
	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusReject,
		Reason:    "not eligible",
		State:     procurement.StateActivationRequested,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Kind != procurement.OutcomeRejected {
		t.Errorf("expected rejected outcome, got %q", out.Kind)
	}
	if len(f.gw.Rejected) != 1 {
		t.Errorf("expected one gateway rejection, got %d", len(f.gw.Rejected))
	}
}

func TestApproveEntitlement_Comment(t *testing.T) {
	f := newFixture()
	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusComment,
		Reason:    "pending account setup",
		State:     procurement.StateActivationRequested,
	})
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if out.Kind != procurement.OutcomeCommented {
		t.Errorf("expected commented outcome, got %q", out.Kind)
	}
	if len(f.gw.Comments) != 1 {
		t.Errorf("expected one message update, got %d", len(f.gw.Comments))
	}
}

func TestApproveEntitlement_PlanChangeApproveIsPlaceholder(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:           "providers/p1/entitlements/ent-1",
		State:          procurement.StatePendingPlanChange,
		NewPendingPlan: "Z",
	})
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com", PolicyIDs: []string{"pol-1"}})

	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusApprove,
		AccountID: "a1",
		PolicyID:  "pol-1",
		State:     procurement.StatePendingPlanChange,
	})
	if err != nil {
		t.Fatalf("plan change approve: %v", err)
	}
	if out.Kind != procurement.OutcomePlanChangeApproved {
		t.Errorf("expected plan_change_approved outcome, got %q", out.Kind)
	}
	// No policy swap is performed yet.
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if len(acct.PolicyIDs) != 1 || acct.PolicyIDs[0] != "pol-1" {
		t.Errorf("expected policies untouched, got %v", acct.PolicyIDs)
	}
	if f.accounts.Puts != 0 {
		t.Errorf("expected no account write, got %d", f.accounts.Puts)
	}
}

func TestApproveEntitlement_PlanChangeReject(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:           "providers/p1/entitlements/ent-1",
		State:          procurement.StatePendingPlanChange,
		NewPendingPlan: "Z",
	})
	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusReject,
		Reason:    "downgrade not allowed",
		State:     procurement.StatePendingPlanChange,
	})
	if err != nil {
		t.Fatalf("plan change reject: %v", err)
	}
	if out.Kind != procurement.OutcomePlanChangeRejected {
		t.Errorf("expected plan_change_rejected outcome, got %q", out.Kind)
	}
	want := "providers/p1/entitlements/ent-1:Z"
	if len(f.gw.PlanChangeRejections) != 1 || f.gw.PlanChangeRejections[0] != want {
		t.Errorf("expected plan change rejection %q, got %v", want, f.gw.PlanChangeRejections)
	}
}

func TestApproveEntitlement_UnsupportedTransition(t *testing.T) {
	f := newFixture()
	out, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    "escalate",
		State:     procurement.StateActivationRequested,
	})
	if !errors.Is(err, procurement.ErrUnsupportedTransition) {
		t.Fatalf("expected ErrUnsupportedTransition, got %v", err)
	}
	if out.Kind != procurement.OutcomeUnsupported {
		t.Errorf("expected unsupported outcome, got %q", out.Kind)
	}
	if len(f.gw.Approved)+len(f.gw.Rejected)+len(f.gw.Comments) != 0 {
		t.Error("expected no gateway calls for unsupported transition")
	}

	out, err = f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		Status: procurement.StatusApprove,
		State:  procurement.EntitlementState("ENTITLEMENT_SUSPENDED"),
	})
	if !errors.Is(err, procurement.ErrUnsupportedTransition) {
		t.Fatalf("expected ErrUnsupportedTransition for unknown state, got %v", err)
	}
	if out.Kind != procurement.OutcomeUnsupported {
		t.Errorf("expected unsupported outcome, got %q", out.Kind)
	}
}

func TestRemoveEntitlement_RemovesAndCleansBlanks(t *testing.T) {
	f := newFixture()
	// Blank entries model the nulls and empty ids legacy writers left behind.
	f.accounts.Seed("p1", procurement.Account{
		AccountID: "a1",
		Email:     "u@x.com",
		PolicyIDs: []string{"pol-1", "", "  "},
	})

	if err := f.engine.RemoveEntitlement(context.Background(), "p1", "a1", "pol-1"); err != nil {
		t.Fatalf("RemoveEntitlement: %v", err)
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if len(acct.PolicyIDs) != 0 {
		t.Errorf("expected empty policy list, got %v", acct.PolicyIDs)
	}
	if acct.CreatedBy != "u@x.com" {
		t.Errorf("expected createdBy set on mutation, got %q", acct.CreatedBy)
	}
}

func TestRemoveEntitlement_AbsentPolicyIsNoOp(t *testing.T) {
	f := newFixture()
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com", PolicyIDs: []string{"pol-2"}})

	for i := 0; i < 2; i++ {
		if err := f.engine.RemoveEntitlement(context.Background(), "p1", "a1", "pol-1"); err != nil {
			t.Fatalf("remove #%d: %v", i+1, err)
		}
	}
	if f.accounts.Puts != 0 {
		t.Errorf("expected no writes for absent policy, got %d", f.accounts.Puts)
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if len(acct.PolicyIDs) != 1 || acct.PolicyIDs[0] != "pol-2" {
		t.Errorf("expected policies untouched, got %v", acct.PolicyIDs)
	}
}

func TestRemoveEntitlement_MissingAccountIsNoOp(t *testing.T) {
	f := newFixture()
	if err := f.engine.RemoveEntitlement(context.Background(), "p1", "ghost", "pol-1"); err != nil {
		t.Fatalf("expected nil error for missing account, got %v", err)
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	f := newFixture()
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com", PolicyIDs: []string{"pol-base"}})

	_, err := f.engine.ApproveEntitlement(context.Background(), procurement.ApprovalRequest{
		ProjectID: "p1",
		Name:      "providers/p1/entitlements/ent-1",
		Status:    procurement.StatusApprove,
		AccountID: "a1",
		PolicyID:  "pol-new",
		State:     procurement.StateActivationRequested,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.RemoveEntitlement(context.Background(), "p1", "a1", "pol-new"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if len(acct.PolicyIDs) != 1 || acct.PolicyIDs[0] != "pol-base" {
		t.Errorf("expected original policy set restored, got %v", acct.PolicyIDs)
	}
}

func seedAutoApprove(f *engineFixture, autoApprove bool) {
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
	})
	f.policies.Seed("p1", procurement.Policy{
		PolicyID: "pol-1",
		Name:     "Premium",
		Marketplace: &procurement.MarketplaceInfo{
			SolutionID:        "X",
			PlanID:            "Y",
			EnableAutoApprove: autoApprove,
		},
	})
}

func TestAutoApprove_ApprovesWhenAccountActivated(t *testing.T) {
	f := newFixture()
	seedAutoApprove(f, true)
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com", MarketplaceRef: "acct-1"})

	if err := f.engine.AutoApproveEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("AutoApproveEntitlement: %v", err)
	}
	if len(f.gw.Approved) != 1 {
		t.Fatalf("expected one gateway approval, got %d", len(f.gw.Approved))
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if !acct.HasPolicy("pol-1") {
		t.Errorf("expected pol-1 attached, got %v", acct.PolicyIDs)
	}
}

func TestAutoApprove_DisabledPolicyIsNoOp(t *testing.T) {
	f := newFixture()
	seedAutoApprove(f, false)
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", Email: "u@x.com", MarketplaceRef: "acct-1"})

	if err := f.engine.AutoApproveEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("AutoApproveEntitlement: %v", err)
	}
	if len(f.gw.Approved) != 0 {
		t.Errorf("expected no gateway approval, got %d", len(f.gw.Approved))
	}
	if f.accounts.Puts != 0 {
		t.Errorf("expected no account mutation, got %d writes", f.accounts.Puts)
	}
}

func TestAutoApprove_AccountNotActivatedLeavesPending(t *testing.T) {
	f := newFixture()
	seedAutoApprove(f, true)

	if err := f.engine.AutoApproveEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("expected nil error when account is missing, got %v", err)
	}
	if len(f.gw.Approved) != 0 {
		t.Errorf("expected no approval without an activated account, got %d", len(f.gw.Approved))
	}
}

func TestAutoApprove_NoMarketplacePolicyIsNoOp(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
	})

	if err := f.engine.AutoApproveEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("expected nil error without a policy, got %v", err)
	}
	if len(f.gw.Approved) != 0 {
		t.Errorf("expected no approval, got %d", len(f.gw.Approved))
	}
}

func TestCancelEntitlement_DetachesPolicy(t *testing.T) {
	f := newFixture()
	seedAutoApprove(f, true)
	f.accounts.Seed("p1", procurement.Account{
		AccountID:      "a1",
		Email:          "u@x.com",
		MarketplaceRef: "acct-1",
		PolicyIDs:      []string{"pol-1", "pol-other"},
	})

	if err := f.engine.CancelEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("CancelEntitlement: %v", err)
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if acct.HasPolicy("pol-1") {
		t.Errorf("expected pol-1 detached, got %v", acct.PolicyIDs)
	}
	if !acct.HasPolicy("pol-other") {
		t.Errorf("expected unrelated policy kept, got %v", acct.PolicyIDs)
	}
}

func TestCancelEntitlement_NoPolicyIsNoOp(t *testing.T) {
	f := newFixture()
	f.gw.Add(procurement.Entitlement{
		Name:    "providers/p1/entitlements/ent-1",
		Account: "acct-1",
		Product: "X",
		Plan:    "Y",
		State:   procurement.StateActivationRequested,
	})
	f.accounts.Seed("p1", procurement.Account{AccountID: "a1", MarketplaceRef: "acct-1", PolicyIDs: []string{"pol-1"}})

	if err := f.engine.CancelEntitlement(context.Background(), "p1", "ent-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	acct, _, _ := f.accounts.Get(context.Background(), "p1", "a1")
	if !acct.HasPolicy("pol-1") {
		t.Errorf("expected policies untouched, got %v", acct.PolicyIDs)
	}
}
