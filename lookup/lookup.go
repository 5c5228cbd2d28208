// Package lookup runs the batched enrichment queries behind entitlement
// listings: one pass over the policy view and one over the account view,
// keyed by the distinct SKUs and marketplace references of a listing.
package lookup

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/procurekit/procurement"
)

// Service implements procurement.LookupService over two SQL views.
type Service struct {
	pg          *pgxpool.Pool
	policyView  string
	accountView string
}

func NewService(pg *pgxpool.Pool, policyView, accountView string) *Service {
	if strings.TrimSpace(policyView) == "" {
		policyView = "procurement.policy_view"
	}
	if strings.TrimSpace(accountView) == "" {
		accountView = "procurement.account_view"
	}
	return &Service{pg: pg, policyView: policyView, accountView: accountView}
}

// PoliciesByPlan returns SKU -> policy metadata for the requested keys.
// Candidates are fetched with two ANY() arrays, which over-matches the cross
// product of solutions and plans; the requested-key filter below narrows the
// result back to exact pairs. First row per key wins.
func (s *Service) PoliciesByPlan(ctx context.Context, projectID string, keys []procurement.PlanKey) (map[procurement.PlanKey]procurement.PolicyRef, error) {
	out := make(map[procurement.PlanKey]procurement.PolicyRef, len(keys))
	if len(keys) == 0 || s.pg == nil {
		return out, nil
	}
	solutions := make([]string, 0, len(keys))
	plans := make([]string, 0, len(keys))
	requested := make(map[procurement.PlanKey]bool, len(keys))
	for _, k := range keys {
		solutions = append(solutions, k.SolutionID)
		plans = append(plans, k.PlanID)
		requested[k] = true
	}
	rows, err := s.pg.Query(ctx,
		`SELECT policy_id, name, description, solution_id, plan_id FROM `+s.policyView+
			` WHERE project_id=$1 AND solution_id = ANY($2) AND plan_id = ANY($3) ORDER BY policy_id`,
		projectID, solutions, plans,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ref        procurement.PolicyRef
			solutionID string
			planID     string
		)
		if err := rows.Scan(&ref.PolicyID, &ref.Name, &ref.Description, &solutionID, &planID); err != nil {
			return nil, err
		}
		k := procurement.PlanKey{SolutionID: solutionID, PlanID: planID}
		if !requested[k] {
			continue
		}
		if _, ok := out[k]; ok {
			continue
		}
		out[k] = ref
	}
	return out, rows.Err()
}

// AccountsByRef returns marketplace reference -> account row for the
// requested references.
func (s *Service) AccountsByRef(ctx context.Context, projectID string, refs []string) (map[string]procurement.AccountRow, error) {
	out := make(map[string]procurement.AccountRow, len(refs))
	if len(refs) == 0 || s.pg == nil {
		return out, nil
	}
	rows, err := s.pg.Query(ctx,
		`SELECT account_id, marketplace_ref, email FROM `+s.accountView+
			` WHERE project_id=$1 AND marketplace_ref = ANY($2)`,
		projectID, refs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row procurement.AccountRow
			ref string
		)
		if err := rows.Scan(&row.AccountID, &ref, &row.Email); err != nil {
			return nil, err
		}
		out[ref] = row
	}
	return out, rows.Err()
}
