// Package policy resolves internal authorization policies, including the
// marketplace-backed ones addressed by (solutionID, planID).
package policy

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/procurekit/procurement"
)

// Cache is an optional read-through cache for marketplace policy lookups.
// Implementations live under storage/.
type Cache interface {
	Get(ctx context.Context, key string) (procurement.Policy, bool, error)
	Put(ctx context.Context, key string, p procurement.Policy) error
	Del(ctx context.Context, key string) error
}

// Store provides policy lookups against the procurement schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
	cache  Cache
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "procurement"
	}
	return &Store{pg: pg, schema: s}
}

// WithCache attaches a read-through cache for FindMarketplacePolicy.
func (s *Store) WithCache(c Cache) *Store {
	s.cache = c
	return s
}

func (s *Store) table() string { return s.schema + ".policies" }

// Get returns the policy by id; ok is false when no row exists.
func (s *Store) Get(ctx context.Context, projectID, policyID string) (procurement.Policy, bool, error) {
	pol, err := s.scanOne(s.pg.QueryRow(ctx,
		`SELECT policy_id, name, description, solution_id, plan_id, enable_auto_approve FROM `+s.table()+
			` WHERE project_id=$1 AND policy_id=$2`,
		projectID, policyID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return procurement.Policy{}, false, nil
	}
	if err != nil {
		return procurement.Policy{}, false, err
	}
	return pol, true, nil
}

// FindMarketplacePolicy resolves "the" policy for a marketplace SKU. Multiple
// rows for the same (solution, plan) indicate a misconfigured catalog; the
// lowest policy id wins so repeated lookups stay deterministic.
func (s *Store) FindMarketplacePolicy(ctx context.Context, projectID, solutionID, planID string) (procurement.Policy, bool, error) {
	key := projectID + ":" + solutionID + ":" + planID
	if s.cache != nil {
		if pol, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return pol, true, nil
		}
	}
	pol, err := s.scanOne(s.pg.QueryRow(ctx,
		`SELECT policy_id, name, description, solution_id, plan_id, enable_auto_approve FROM `+s.table()+
			` WHERE project_id=$1 AND solution_id=$2 AND plan_id=$3 ORDER BY policy_id LIMIT 1`,
		projectID, solutionID, planID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return procurement.Policy{}, false, nil
	}
	if err != nil {
		return procurement.Policy{}, false, err
	}
	if s.cache != nil {
		_ = s.cache.Put(ctx, key, pol) // best effort
	}
	return pol, true, nil
}

func (s *Store) scanOne(row pgx.Row) (procurement.Policy, error) {
	var (
		pol         procurement.Policy
		solutionID  *string
		planID      *string
		autoApprove bool
	)
	if err := row.Scan(&pol.PolicyID, &pol.Name, &pol.Description, &solutionID, &planID, &autoApprove); err != nil {
		return procurement.Policy{}, err
	}
	if solutionID != nil && planID != nil {
		pol.Marketplace = &procurement.MarketplaceInfo{
			SolutionID:        *solutionID,
			PlanID:            *planID,
			EnableAutoApprove: autoApprove,
		}
	}
	return pol, nil
}
