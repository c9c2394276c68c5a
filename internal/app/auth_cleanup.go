package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const revocationCleanupInterval = 1 * time.Hour

// runRevocationCleanup drops revocation entries older than the token TTL.
// A revoked token that old fails validation on expiry alone.
func (a *App) runRevocationCleanup(ctx context.Context) {
	if a.tokens == nil {
		return
	}

	ticker := time.NewTicker(revocationCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneRevocations("scheduled")
		}
	}
}

func (a *App) pruneRevocations(reason string) int {
	if a.tokens == nil {
		return 0
	}

	removed := a.tokens.CleanupExpiredRevocations(a.cfg.Auth.TokenTTL)
	if removed > 0 {
		log.Info().
			Str("reason", reason).
			Int("removed", removed).
			Msg("expired token revocations pruned")
	}
	return removed
}
