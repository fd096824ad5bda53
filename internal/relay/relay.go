package relay

import (
	"context"
	"errors"
	"fmt"

	"relaydesk/internal/store"
	"relaydesk/internal/transport"
)

// User- and staff-facing notices for the recoverable faults.
const (
	noticeNoWorkspaceAccess = "No access to the staff workspace"
	noticeNoUserForThread   = "No user is linked to this thread"
	noticeEditsUnsupported  = "Editing messages is not supported, please send a new message"

	noticeWorkspaceNeedsThreads = "Enable topics in the staff workspace so user conversations get their own threads"
	noticeBotNeedsThreadRights  = "Grant the bot rights to manage topics in the staff workspace"
)

// RelayFromUser mirrors a user's message into their staff thread. A stale
// thread mapping is healed once: the mapping is deleted and the whole flow
// rerun, which provisions a fresh thread. A second thread-not-found in a
// row propagates.
func (s *Service) RelayFromUser(ctx context.Context, user User, msg Message) error {
	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		threadID, err := s.threadForUser(ctx, user)
		if err != nil {
			return s.handleProvisionFault(ctx, user, msg, err)
		}

		replyTo, err := s.staffReplyTarget(ctx, user.ID, msg.ReplyToID)
		if err != nil {
			return err
		}

		mirroredID, err := s.transport.MirrorMessage(ctx,
			transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.MessageID},
			transport.Destination{ChatID: s.cfg.WorkspaceChatID, ThreadID: threadID},
			transport.MirrorOptions{ReplyToID: replyTo},
		)
		switch {
		case errors.Is(err, transport.ErrThreadNotFound):
			// The thread was deleted in the workspace but the mapping
			// survived. Drop it and rerun; the next attempt provisions a
			// fresh thread, so hitting this branch twice means something
			// else is wrong.
			lastErr = fmt.Errorf("mirror to staff thread %d: %w", threadID, err)
			if attempt+1 == maxAttempts {
				return lastErr
			}
			if delErr := s.store.DeleteUserThread(ctx, user.ID); delErr != nil {
				return delErr
			}
			selfHeals.Inc()
			continue
		case errors.Is(err, transport.ErrContentNotMirrorable):
			droppedMessages.Inc()
			return nil
		case err != nil:
			return fmt.Errorf("mirror to staff thread %d: %w", threadID, err)
		}

		if _, err := s.store.InsertMessageLink(ctx, store.MessageLink{
			UserID:            user.ID,
			OriginMessageID:   msg.MessageID,
			MirroredMessageID: mirroredID,
			SenderType:        store.SenderUser,
		}); err != nil {
			return err
		}
		relayedMessages.WithLabelValues("user_to_staff").Inc()
		return nil
	}
	return lastErr
}

// RelayEditedFromUser mirrors an edited user message as a brand-new copy,
// marked as superseding and reply-linked to the mirror of the original.
// No self-heal runs on this path; a vanished thread just drops the edit,
// as does unmirrorable content.
func (s *Service) RelayEditedFromUser(ctx context.Context, user User, msg Message) error {
	threadID, err := s.threadForUser(ctx, user)
	if err != nil {
		return s.handleProvisionFault(ctx, user, msg, err)
	}

	// The edited message keeps its original ID, so its own counterpart is
	// the reply anchor.
	replyTo, err := s.staffReplyTarget(ctx, user.ID, msg.MessageID)
	if err != nil {
		return err
	}

	mirroredID, err := s.transport.MirrorMessage(ctx,
		transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.MessageID},
		transport.Destination{ChatID: s.cfg.WorkspaceChatID, ThreadID: threadID},
		transport.MirrorOptions{ReplyToID: replyTo, Supersedes: true},
	)
	if errors.Is(err, transport.ErrThreadNotFound) || errors.Is(err, transport.ErrContentNotMirrorable) {
		droppedMessages.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("mirror edit to staff thread %d: %w", threadID, err)
	}

	if _, err := s.store.InsertMessageLink(ctx, store.MessageLink{
		UserID:            user.ID,
		OriginMessageID:   msg.MessageID,
		MirroredMessageID: mirroredID,
		SenderType:        store.SenderUser,
	}); err != nil {
		return err
	}
	relayedMessages.WithLabelValues("user_to_staff").Inc()
	return nil
}

// RelayFromStaff mirrors a staff message from a thread to its user. There
// is no self-heal here: a thread with no mapping cannot be repaired, since
// the engine cannot invent a user identity.
func (s *Service) RelayFromStaff(ctx context.Context, threadID int64, msg Message) error {
	userID, ok, err := s.store.UserIDByThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return s.transport.Notify(ctx,
			transport.Destination{ChatID: s.cfg.WorkspaceChatID, ThreadID: threadID},
			noticeNoUserForThread)
	}

	var replyTo int64
	if msg.ReplyToID != 0 {
		if target, ok, err := s.store.UserMessageIDFor(ctx, threadID, msg.ReplyToID); err != nil {
			return err
		} else if ok {
			replyTo = target
		}
	}

	mirroredID, err := s.transport.MirrorMessage(ctx,
		transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.MessageID},
		transport.Destination{ChatID: userID},
		transport.MirrorOptions{ReplyToID: replyTo},
	)
	if errors.Is(err, transport.ErrContentNotMirrorable) {
		droppedMessages.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("mirror to user %d: %w", userID, err)
	}

	if _, err := s.store.InsertMessageLink(ctx, store.MessageLink{
		UserID:            userID,
		OriginMessageID:   msg.MessageID,
		MirroredMessageID: mirroredID,
		SenderType:        store.SenderStaff,
	}); err != nil {
		return err
	}
	relayedMessages.WithLabelValues("staff_to_user").Inc()
	return nil
}

// StaffEditNotice tells a staff member that edits are never relayed.
func (s *Service) StaffEditNotice(ctx context.Context, threadID int64) error {
	return s.transport.Notify(ctx,
		transport.Destination{ChatID: s.cfg.WorkspaceChatID, ThreadID: threadID},
		noticeEditsUnsupported)
}

// handleProvisionFault applies the per-fault fallback: an unreachable
// workspace is reported to the user; a capability gap forwards the raw
// message to the workspace's default surface and tells staff what to fix.
// Anything else is a plain error for the caller's boundary.
func (s *Service) handleProvisionFault(ctx context.Context, user User, msg Message, err error) error {
	switch {
	case errors.Is(err, ErrWorkspaceUnreachable):
		return s.transport.Notify(ctx, transport.Destination{ChatID: user.ID}, noticeNoWorkspaceAccess)
	case errors.Is(err, ErrWorkspaceLacksThreading):
		return s.fallbackToWorkspace(ctx, msg, noticeWorkspaceNeedsThreads)
	case errors.Is(err, ErrBotLacksThreadRights):
		return s.fallbackToWorkspace(ctx, msg, noticeBotNeedsThreadRights)
	default:
		return err
	}
}

func (s *Service) fallbackToWorkspace(ctx context.Context, msg Message, gap string) error {
	dest := transport.Destination{ChatID: s.cfg.WorkspaceChatID}
	_, err := s.transport.MirrorMessage(ctx,
		transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.MessageID},
		dest, transport.MirrorOptions{})
	if err != nil && !errors.Is(err, transport.ErrContentNotMirrorable) {
		return fmt.Errorf("forward to workspace: %w", err)
	}
	return s.transport.Notify(ctx, dest, gap)
}

// staffReplyTarget resolves the staff-side counterpart of a user-side
// message. A miss is not an error; reply context is simply dropped.
func (s *Service) staffReplyTarget(ctx context.Context, userID, userMessageID int64) (int64, error) {
	if userMessageID == 0 {
		return 0, nil
	}
	target, ok, err := s.store.StaffMessageIDFor(ctx, userID, userMessageID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return target, nil
}
