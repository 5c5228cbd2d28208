// Package account persists internal account records and their policy
// associations.
package account

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/procurekit/procurement"
)

// Store provides account lookups/mutations against the procurement schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "procurement"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) table() string { return s.schema + ".accounts" }

// Get returns the account for (projectID, accountID); ok is false when no
// row exists.
func (s *Store) Get(ctx context.Context, projectID, accountID string) (procurement.Account, bool, error) {
	var (
		acct procurement.Account
		raw  []byte
	)
	err := s.pg.QueryRow(ctx,
		`SELECT account_id, email, marketplace_ref, policies, created_by FROM `+s.table()+
			` WHERE project_id=$1 AND account_id=$2`,
		projectID, accountID,
	).Scan(&acct.AccountID, &acct.Email, &acct.MarketplaceRef, &raw, &acct.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return procurement.Account{}, false, nil
	}
	if err != nil {
		return procurement.Account{}, false, err
	}
	acct.PolicyIDs, err = decodePolicies(raw)
	if err != nil {
		return procurement.Account{}, false, err
	}
	return acct, true, nil
}

// Put upserts the full account record. Policies are written in the canonical
// bare-id form regardless of how the row was stored before.
func (s *Store) Put(ctx context.Context, projectID string, acct procurement.Account) error {
	raw, err := encodePolicies(acct.PolicyIDs)
	if err != nil {
		return err
	}
	_, err = s.pg.Exec(ctx,
		`INSERT INTO `+s.table()+` (project_id, account_id, email, marketplace_ref, policies, created_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (project_id, account_id) DO UPDATE
		 SET email=EXCLUDED.email, marketplace_ref=EXCLUDED.marketplace_ref,
		     policies=EXCLUDED.policies, created_by=EXCLUDED.created_by, updated_at=NOW()`,
		projectID, acct.AccountID, acct.Email, acct.MarketplaceRef, raw, acct.CreatedBy,
	)
	return err
}

// FindByMarketplaceRef resolves an account by its opaque marketplace account
// reference; ok is false when no account has activated under that reference.
func (s *Store) FindByMarketplaceRef(ctx context.Context, projectID, ref string) (procurement.Account, bool, error) {
	if strings.TrimSpace(ref) == "" {
		return procurement.Account{}, false, nil
	}
	var (
		acct procurement.Account
		raw  []byte
	)
	err := s.pg.QueryRow(ctx,
		`SELECT account_id, email, marketplace_ref, policies, created_by FROM `+s.table()+
			` WHERE project_id=$1 AND marketplace_ref=$2 LIMIT 1`,
		projectID, ref,
	).Scan(&acct.AccountID, &acct.Email, &acct.MarketplaceRef, &raw, &acct.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return procurement.Account{}, false, nil
	}
	if err != nil {
		return procurement.Account{}, false, err
	}
	acct.PolicyIDs, err = decodePolicies(raw)
	if err != nil {
		return procurement.Account{}, false, err
	}
	return acct, true, nil
}
