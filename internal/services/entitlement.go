package services

import (
	"context"
	"sync"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
)

// EntitlementService is the seam for the platform's subscription gate. The
// real verdict comes from the billing system; this implementation admits
// everyone except explicitly blocked users, which is what the battle core
// needs for local development and tests.
type EntitlementService struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewEntitlementService constructs a permissive entitlement checker.
func NewEntitlementService() *EntitlementService {
	return &EntitlementService{blocked: make(map[string]struct{})}
}

// Block denies future joins for the user id.
func (s *EntitlementService) Block(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[userID] = struct{}{}
}

// Unblock lifts a previous block.
func (s *EntitlementService) Unblock(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, userID)
}

// CanJoin implements battle.EntitlementChecker.
func (s *EntitlementService) CanJoin(_ context.Context, identity realtime.Identity, _ string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, denied := s.blocked[identity.UserID]; denied {
		return appErrors.ErrEntitlementDenied
	}
	return nil
}
