// Package procurement reconciles marketplace entitlements with the internal
// account/policy model: a purchased plan is translated into a policy
// association on the buyer's account.
package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Gateway is the marketplace's entitlement authority.
type Gateway interface {
	ListEntitlements(ctx context.Context, projectID string, filter Filter) ([]Entitlement, error)
	GetEntitlement(ctx context.Context, name string) (Entitlement, error)
	ApproveEntitlement(ctx context.Context, name string) error
	RejectEntitlement(ctx context.Context, name, reason string) error
	UpdateEntitlementMessage(ctx context.Context, name, message string) error
	RejectPlanChange(ctx context.Context, name, pendingPlan, reason string) error
	EntitlementName(projectID, entitlementID string) string
}

// AccountStore reads and writes internal account records.
type AccountStore interface {
	Get(ctx context.Context, projectID, accountID string) (Account, bool, error)
	Put(ctx context.Context, projectID string, acct Account) error
	FindByMarketplaceRef(ctx context.Context, projectID, ref string) (Account, bool, error)
}

// PolicyStore resolves the marketplace policy for a SKU.
type PolicyStore interface {
	FindMarketplacePolicy(ctx context.Context, projectID, solutionID, planID string) (Policy, bool, error)
}

// LookupService runs the batched enrichment queries over the policy and
// account views. Both methods take the full distinct key set for a listing so
// enrichment costs two queries, not two per row.
type LookupService interface {
	PoliciesByPlan(ctx context.Context, projectID string, keys []PlanKey) (map[PlanKey]PolicyRef, error)
	AccountsByRef(ctx context.Context, projectID string, refs []string) (map[string]AccountRow, error)
}

// Approval statuses accepted by ApproveEntitlement.
const (
	StatusApprove = "approve"
	StatusReject  = "reject"
	StatusComment = "comment"
)

// OutcomeKind tags the result of an approval state-machine run.
type OutcomeKind string

const (
	OutcomeApproved           OutcomeKind = "approved"
	OutcomeRejected           OutcomeKind = "rejected"
	OutcomeCommented          OutcomeKind = "commented"
	OutcomePlanChangeApproved OutcomeKind = "plan_change_approved"
	OutcomePlanChangeRejected OutcomeKind = "plan_change_rejected"
	OutcomeUnsupported        OutcomeKind = "unsupported"
)

// Outcome is the tagged result of ApproveEntitlement.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
}

// ErrUnsupportedTransition is returned for a (state, status) pair the state
// machine does not model, alongside an OutcomeUnsupported outcome.
var ErrUnsupportedTransition = errors.New("procurement: unsupported state/status transition")

// ApprovalRequest drives one approval state-machine run.
type ApprovalRequest struct {
	ProjectID string
	Name      string // full entitlement resource name
	Status    string
	Reason    string
	AccountID string
	PolicyID  string
	State     EntitlementState
}

// Engine orchestrates the gateway, stores and lookup service. All methods are
// tenant-scoped by projectID and attempt each external call exactly once;
// retry is the caller's (or queue's) concern.
type Engine struct {
	gw       Gateway
	accounts AccountStore
	policies PolicyStore
	lookup   LookupService
	log      *logrus.Logger
	locks    KeyedMutex
}

// NewEngine wires an engine. A nil logger falls back to the logrus standard
// logger.
func NewEngine(gw Gateway, accounts AccountStore, policies PolicyStore, lookup LookupService, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{gw: gw, accounts: accounts, policies: policies, lookup: lookup, log: log}
}

// ListProcurements fetches entitlements matching the given states (defaulting
// to activation-requested) and enriches them with policy and account
// metadata. Activated is true iff both a policy and an account resolved for
// the entitlement. On any upstream failure the listing is unusable as a
// whole; no partially enriched result is returned.
func (e *Engine) ListProcurements(ctx context.Context, projectID string, states []EntitlementState) ([]Entitlement, error) {
	ents, err := e.gw.ListEntitlements(ctx, projectID, Filter{States: states})
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}

	// Distinct key sets across the listing, so each view is hit once.
	planKeys := make([]PlanKey, 0, len(ents))
	planSeen := make(map[PlanKey]bool, len(ents))
	refs := make([]string, 0, len(ents))
	refSeen := make(map[string]bool, len(ents))
	for i := range ents {
		// Reset enrichment regardless of what the gateway sent back.
		ents[i].Activated = false
		k := PlanKey{SolutionID: ents[i].Product, PlanID: ents[i].Plan}
		if !planSeen[k] {
			planSeen[k] = true
			planKeys = append(planKeys, k)
		}
		if r := ents[i].Account; r != "" && !refSeen[r] {
			refSeen[r] = true
			refs = append(refs, r)
		}
	}

	// The two lookups depend only on the raw listing, never on each other.
	var (
		polByKey  map[PlanKey]PolicyRef
		acctByRef map[string]AccountRow
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(planKeys) > 0 {
		g.Go(func() error {
			var err error
			polByKey, err = e.lookup.PoliciesByPlan(gctx, projectID, planKeys)
			return err
		})
	}
	if len(refs) > 0 {
		g.Go(func() error {
			var err error
			acctByRef, err = e.lookup.AccountsByRef(gctx, projectID, refs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrich entitlements: %w", err)
	}

	for i := range ents {
		if ref, ok := polByKey[PlanKey{SolutionID: ents[i].Product, PlanID: ents[i].Plan}]; ok {
			ents[i].Policy = &ref
		}
		if row, ok := acctByRef[ents[i].Account]; ok {
			ents[i].Email = row.Email
			ents[i].AccountID = row.AccountID
			if ents[i].Policy != nil {
				ents[i].Activated = true
			}
		}
	}
	return ents, nil
}

// ApproveEntitlement drives the approval state machine for one entitlement.
// Unsupported (state, status) pairs yield OutcomeUnsupported together with
// ErrUnsupportedTransition so no caller ever sees an implicit nothing.
func (e *Engine) ApproveEntitlement(ctx context.Context, req ApprovalRequest) (Outcome, error) {
	switch req.State {
	case StateActivationRequested:
		switch req.Status {
		case StatusApprove:
			if err := e.gw.ApproveEntitlement(ctx, req.Name); err != nil {
				return Outcome{}, fmt.Errorf("approve entitlement %s: %w", req.Name, err)
			}
			if err := e.attachPolicy(ctx, req.ProjectID, req.AccountID, req.PolicyID); err != nil {
				return Outcome{}, err
			}
			return Outcome{Kind: OutcomeApproved}, nil
		case StatusReject:
			if err := e.gw.RejectEntitlement(ctx, req.Name, req.Reason); err != nil {
				return Outcome{}, fmt.Errorf("reject entitlement %s: %w", req.Name, err)
			}
			return Outcome{Kind: OutcomeRejected}, nil
		case StatusComment:
			if err := e.gw.UpdateEntitlementMessage(ctx, req.Name, req.Reason); err != nil {
				return Outcome{}, fmt.Errorf("comment on entitlement %s: %w", req.Name, err)
			}
			return Outcome{Kind: OutcomeCommented}, nil
		}
	case StatePendingPlanChange:
		switch req.Status {
		case StatusApprove:
			ent, err := e.gw.GetEntitlement(ctx, req.Name)
			if err != nil {
				return Outcome{}, fmt.Errorf("get entitlement %s: %w", req.Name, err)
			}
			// TODO(plan-change): swap the account's policy from the current
			// plan to the one matching ent.NewPendingPlan. Upstream has never
			// finalized this path; no policy mutation happens here yet.
			_ = ent.NewPendingPlan
			return Outcome{Kind: OutcomePlanChangeApproved}, nil
		case StatusReject:
			ent, err := e.gw.GetEntitlement(ctx, req.Name)
			if err != nil {
				return Outcome{}, fmt.Errorf("get entitlement %s: %w", req.Name, err)
			}
			if err := e.gw.RejectPlanChange(ctx, req.Name, ent.NewPendingPlan, req.Reason); err != nil {
				return Outcome{}, fmt.Errorf("reject plan change for %s: %w", req.Name, err)
			}
			return Outcome{Kind: OutcomePlanChangeRejected}, nil
		}
	}
	return Outcome{Kind: OutcomeUnsupported}, ErrUnsupportedTransition
}

// attachPolicy idempotently adds policyID to the account's policy set. The
// account write is the last step; a gateway approval that already landed
// stays approved even if this write fails.
func (e *Engine) attachPolicy(ctx context.Context, projectID, accountID, policyID string) error {
	unlock := e.locks.Lock(accountID)
	defer unlock()

	acct, ok, err := e.accounts.Get(ctx, projectID, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	if !acct.AddPolicy(policyID) {
		return nil // already associated
	}
	acct.CreatedBy = acct.Email
	if err := e.accounts.Put(ctx, projectID, acct); err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	return nil
}

// RemoveEntitlement detaches policyID from the account. A missing account or
// a policy that is not associated is a logged no-op. The removal pass also
// clears blank policy entries left behind by older writers.
func (e *Engine) RemoveEntitlement(ctx context.Context, projectID, accountID, policyID string) error {
	unlock := e.locks.Lock(accountID)
	defer unlock()

	acct, ok, err := e.accounts.Get(ctx, projectID, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	fields := logrus.Fields{"project": projectID, "account": accountID, "policy": policyID}
	if !ok {
		e.log.WithFields(fields).Info("remove entitlement: account not found, nothing to do")
		return nil
	}
	if !acct.HasPolicy(policyID) {
		e.log.WithFields(fields).Info("remove entitlement: policy not associated, nothing to do")
		return nil
	}
	acct.RemovePolicy(policyID)
	acct.CreatedBy = acct.Email
	if err := e.accounts.Put(ctx, projectID, acct); err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	return nil
}

// AutoApproveEntitlement approves an entitlement without manual review when
// its policy opts in and the purchasing account has already activated
// internally. The engine never creates the account itself; until the account
// exists the entitlement stays pending and the sweep (or the account's own
// activation flow) tries again later.
func (e *Engine) AutoApproveEntitlement(ctx context.Context, projectID, entitlementID string) error {
	ent, pol, ok, err := e.resolve(ctx, projectID, entitlementID)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"project": projectID, "entitlement": entitlementID}
	if !ok || pol.Marketplace == nil {
		e.log.WithFields(fields).Info("auto-approve: no marketplace policy for plan")
		return nil
	}
	if !pol.Marketplace.EnableAutoApprove {
		e.log.WithFields(fields).WithField("policy", pol.PolicyID).Debug("auto-approve disabled for policy")
		return nil
	}
	if ent.Account == "" {
		e.log.WithFields(fields).Info("auto-approve: entitlement has no marketplace account reference")
		return nil
	}
	acct, ok, err := e.accounts.FindByMarketplaceRef(ctx, projectID, ent.Account)
	if err != nil {
		return fmt.Errorf("find account by marketplace ref: %w", err)
	}
	if !ok {
		e.log.WithFields(fields).Info("auto-approve: account not yet activated, leaving entitlement pending")
		return nil
	}
	_, err = e.ApproveEntitlement(ctx, ApprovalRequest{
		ProjectID: projectID,
		Name:      ent.Name,
		Status:    StatusApprove,
		AccountID: acct.AccountID,
		PolicyID:  pol.PolicyID,
		State:     StateActivationRequested,
	})
	return err
}

// CancelEntitlement detaches the policy matching a cancelled entitlement from
// the purchasing account. Unresolvable policy or account is a logged no-op.
func (e *Engine) CancelEntitlement(ctx context.Context, projectID, entitlementID string) error {
	ent, pol, ok, err := e.resolve(ctx, projectID, entitlementID)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"project": projectID, "entitlement": entitlementID}
	if !ok {
		e.log.WithFields(fields).Info("cancel: no marketplace policy for plan, nothing to detach")
		return nil
	}
	acct, ok, err := e.accounts.FindByMarketplaceRef(ctx, projectID, ent.Account)
	if err != nil {
		return fmt.Errorf("find account by marketplace ref: %w", err)
	}
	if !ok {
		e.log.WithFields(fields).Info("cancel: account not found, nothing to detach")
		return nil
	}
	return e.RemoveEntitlement(ctx, projectID, acct.AccountID, pol.PolicyID)
}

// resolve fetches the entitlement by bare id and the marketplace policy for
// its (product, plan). ok is false when no policy matches.
func (e *Engine) resolve(ctx context.Context, projectID, entitlementID string) (Entitlement, Policy, bool, error) {
	name := e.gw.EntitlementName(projectID, entitlementID)
	ent, err := e.gw.GetEntitlement(ctx, name)
	if err != nil {
		return Entitlement{}, Policy{}, false, fmt.Errorf("get entitlement %s: %w", name, err)
	}
	pol, ok, err := e.policies.FindMarketplacePolicy(ctx, projectID, ent.Product, ent.Plan)
	if err != nil {
		return Entitlement{}, Policy{}, false, fmt.Errorf("find marketplace policy for (%s, %s): %w", ent.Product, ent.Plan, err)
	}
	return ent, pol, ok, nil
}
