// Package mfa reports per-user multi-factor enrollment state for the
// privileged-operation gate.
package mfa

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider reads MFA enrollment from the user_mfa_settings table. A user with
// no row has never enrolled.
type Provider struct {
	pool *pgxpool.Pool
}

// NewProvider constructs a Provider.
func NewProvider(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

// Compliant reports whether the user has a verified MFA factor. The second
// return value names the failing condition for audit records.
func (p *Provider) Compliant(ctx context.Context, userID int64) (bool, string, error) {
	var enabled, verified bool
	err := p.pool.QueryRow(ctx, `
		SELECT enabled, verified FROM user_mfa_settings WHERE user_id = $1`, userID).
		Scan(&enabled, &verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "mfa_not_enrolled", nil
		}
		return false, "", err
	}
	if !enabled {
		return false, "mfa_disabled", nil
	}
	if !verified {
		return false, "mfa_unverified", nil
	}
	return true, "", nil
}
