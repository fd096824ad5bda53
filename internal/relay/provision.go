package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relaydesk/internal/store"
	"relaydesk/internal/transport"
)

// threadForUser returns the staff thread assigned to the user, creating it
// on first contact. The capability checks run in order and each failure is
// a distinct terminal fault: workspace reachable → threads supported → bot
// has thread rights → create → persist mapping.
//
// Two near-simultaneous first messages from the same user would otherwise
// race past the existence check and open two threads; the per-user lock
// serializes provisioning, and the directory's uniqueness constraint
// backstops it across processes (the loser re-reads the winner's thread).
func (s *Service) threadForUser(ctx context.Context, user User) (int64, error) {
	if threadID, ok, err := s.store.ThreadIDByUser(ctx, user.ID); err != nil {
		return 0, err
	} else if ok {
		return threadID, nil
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	// Re-check under the lock: another event may have provisioned while we
	// waited.
	if threadID, ok, err := s.store.ThreadIDByUser(ctx, user.ID); err != nil {
		return 0, err
	} else if ok {
		return threadID, nil
	}

	chat, err := s.transport.GetChat(ctx, s.cfg.WorkspaceChatID)
	if errors.Is(err, transport.ErrChatNotFound) {
		return 0, ErrWorkspaceUnreachable
	}
	if err != nil {
		return 0, fmt.Errorf("check workspace: %w", err)
	}
	if !chat.SupportsThreads {
		return 0, ErrWorkspaceLacksThreading
	}

	canManage, err := s.transport.HasThreadManagementRights(ctx, s.cfg.WorkspaceChatID)
	if err != nil {
		return 0, fmt.Errorf("check thread rights: %w", err)
	}
	if !canManage {
		return 0, ErrBotLacksThreadRights
	}

	threadID, err := s.transport.CreateThread(ctx, s.cfg.WorkspaceChatID, user.DisplayName)
	if err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}

	if err := s.store.CreateUserThread(ctx, user.ID, threadID); err != nil {
		if errors.Is(err, store.ErrDuplicateMapping) {
			// Lost a cross-process race; use the winner's thread.
			existing, ok, lookupErr := s.store.ThreadIDByUser(ctx, user.ID)
			if lookupErr != nil {
				return 0, lookupErr
			}
			if ok {
				return existing, nil
			}
		}
		return 0, fmt.Errorf("persist thread mapping: %w", err)
	}

	return threadID, nil
}

func (s *Service) lockUser(userID int64) func() {
	s.lockMu.Lock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}
