package api

import (
	"math"

	"github.com/tallyapp/tally-server/internal/domain"
	domainerrors "github.com/tallyapp/tally-server/internal/errors"
)

// checkRateLimit spends one export/import token for the identity.
func (s *Server) checkRateLimit(identity domain.Identity, operation string) error {
	if s.limiter == nil || s.limiter.Allow(identity.UserID) {
		return nil
	}

	wait := s.limiter.RetryAfter(identity.UserID)
	s.logger.Warn("Rate limit exceeded",
		"user_id", identity.UserID,
		"operation", operation,
		"retry_after", wait)

	return domainerrors.TooManyRequests("Too many backup requests. Please try again later.").
		WithDetails(map[string]any{"retry_after_seconds": int(math.Ceil(wait.Seconds()))})
}
