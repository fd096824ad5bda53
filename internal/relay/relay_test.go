package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"relaydesk/internal/store"
	"relaydesk/internal/transport"
)

func mappedStore(userID, threadID int64) *fakeStore {
	return &fakeStore{
		threadIDByUserFn: func(_ context.Context, id int64) (int64, bool, error) {
			if id == userID {
				return threadID, true, nil
			}
			return 0, false, nil
		},
		userIDByThreadFn: func(_ context.Context, id int64) (int64, bool, error) {
			if id == threadID {
				return userID, true, nil
			}
			return 0, false, nil
		},
	}
}

func TestRelayFromUserMirrorsIntoThread(t *testing.T) {
	fs := mappedStore(7, 42)
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}

	mirrors := ft.recordedMirrors()
	if len(mirrors) != 1 {
		t.Fatalf("expected 1 mirror, got %d", len(mirrors))
	}
	if mirrors[0].dest.ChatID != testWorkspaceID || mirrors[0].dest.ThreadID != 42 {
		t.Fatalf("mirrored to wrong destination: %+v", mirrors[0].dest)
	}

	links := fs.recordedLinks()
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	link := links[0]
	if link.UserID != 7 || link.OriginMessageID != 10 || link.MirroredMessageID != 1010 || link.SenderType != store.SenderUser {
		t.Fatalf("unexpected link: %+v", link)
	}
}

func TestRelayFromUserResolvesReplyContext(t *testing.T) {
	fs := mappedStore(7, 42)
	fs.staffMessageIDForFn = func(_ context.Context, userID, userMessageID int64) (int64, bool, error) {
		if userID == 7 && userMessageID == 5 {
			return 1005, true, nil
		}
		return 0, false, nil
	}
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10, ReplyToID: 5})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}
	if got := ft.recordedMirrors()[0].opts.ReplyToID; got != 1005 {
		t.Fatalf("expected reply anchored to counterpart 1005, got %d", got)
	}
}

func TestRelayFromUserDropsUnknownReplyContext(t *testing.T) {
	fs := mappedStore(7, 42)
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10, ReplyToID: 999})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}
	if got := ft.recordedMirrors()[0].opts.ReplyToID; got != 0 {
		t.Fatalf("unresolvable reply should be dropped, got anchor %d", got)
	}
}

func TestRelayFromUserHealsStaleThread(t *testing.T) {
	// Mapping points at thread 42, which the workspace has deleted. The
	// engine must drop the mapping, provision a fresh thread, and deliver.
	deleted := false
	fs := &fakeStore{
		threadIDByUserFn: func(_ context.Context, userID int64) (int64, bool, error) {
			if deleted {
				return 0, false, nil
			}
			return 42, true, nil
		},
		deleteUserThreadFn: func(_ context.Context, userID int64) error {
			if deleted {
				t.Fatal("mapping deleted twice")
			}
			deleted = true
			return nil
		},
	}
	ft := &fakeTransport{
		createThreadFn: func(context.Context, int64, string) (int64, error) { return 77, nil },
		mirrorMessageFn: func(_ context.Context, _ transport.MessageRef, dest transport.Destination, _ transport.MirrorOptions) (int64, error) {
			if dest.ThreadID == 42 {
				return 0, transport.ErrThreadNotFound
			}
			return 2000, nil
		},
	}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7, DisplayName: "@eve"}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}
	if !deleted {
		t.Fatal("stale mapping was not dropped")
	}

	mirrors := ft.recordedMirrors()
	if len(mirrors) != 2 {
		t.Fatalf("expected mirror retry, got %d calls", len(mirrors))
	}
	if mirrors[1].dest.ThreadID != 77 {
		t.Fatalf("retry should target the fresh thread, got %d", mirrors[1].dest.ThreadID)
	}

	links := fs.recordedLinks()
	if len(links) != 1 || links[0].MirroredMessageID != 2000 {
		t.Fatalf("expected a single link for the delivered copy, got %+v", links)
	}
}

func TestRelayFromUserGivesUpAfterSecondStaleThread(t *testing.T) {
	deletes := 0
	fs := &fakeStore{
		threadIDByUserFn: func(context.Context, int64) (int64, bool, error) { return 0, false, nil },
		deleteUserThreadFn: func(context.Context, int64) error {
			deletes++
			return nil
		},
	}
	ft := &fakeTransport{
		createThreadFn: func(context.Context, int64, string) (int64, error) { return 42, nil },
		mirrorMessageFn: func(context.Context, transport.MessageRef, transport.Destination, transport.MirrorOptions) (int64, error) {
			return 0, transport.ErrThreadNotFound
		},
	}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if !errors.Is(err, transport.ErrThreadNotFound) {
		t.Fatalf("expected thread-not-found to propagate, got %v", err)
	}
	if deletes != 1 {
		t.Fatalf("mapping must be dropped exactly once, got %d deletes", deletes)
	}
}

func TestRelayFromUserDropsUnmirrorableContent(t *testing.T) {
	fs := mappedStore(7, 42)
	ft := &fakeTransport{
		mirrorMessageFn: func(context.Context, transport.MessageRef, transport.Destination, transport.MirrorOptions) (int64, error) {
			return 0, transport.ErrContentNotMirrorable
		},
	}
	svc := newTestService(fs, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("unmirrorable content should be dropped silently, got %v", err)
	}
	if links := fs.recordedLinks(); len(links) != 0 {
		t.Fatalf("nothing should be persisted for a dropped message, got %+v", links)
	}
}

func TestRelayFromUserUnreachableWorkspaceNotifiesUser(t *testing.T) {
	ft := &fakeTransport{
		getChatFn: func(context.Context, int64) (transport.ChatInfo, error) {
			return transport.ChatInfo{}, transport.ErrChatNotFound
		},
	}
	svc := newTestService(&fakeStore{}, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}
	notices := ft.recordedNotices()
	if len(notices) != 1 || notices[0] != noticeNoWorkspaceAccess {
		t.Fatalf("expected user-facing workspace notice, got %v", notices)
	}
}

func TestRelayFromUserFallsBackWhenWorkspaceLacksThreads(t *testing.T) {
	ft := &fakeTransport{
		getChatFn: func(_ context.Context, chatID int64) (transport.ChatInfo, error) {
			return transport.ChatInfo{ID: chatID, SupportsThreads: false}, nil
		},
	}
	svc := newTestService(&fakeStore{}, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}

	mirrors := ft.recordedMirrors()
	if len(mirrors) != 1 || mirrors[0].dest.ChatID != testWorkspaceID || mirrors[0].dest.ThreadID != 0 {
		t.Fatalf("message should land on the workspace's default surface, got %+v", mirrors)
	}
	notices := ft.recordedNotices()
	if len(notices) != 1 || notices[0] != noticeWorkspaceNeedsThreads {
		t.Fatalf("expected staff-facing capability notice, got %v", notices)
	}
}

func TestRelayFromUserFallsBackWhenBotLacksRights(t *testing.T) {
	ft := &fakeTransport{
		hasThreadRights: func(context.Context, int64) (bool, error) { return false, nil },
	}
	svc := newTestService(&fakeStore{}, ft)

	err := svc.RelayFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayFromUser: %v", err)
	}
	notices := ft.recordedNotices()
	if len(notices) != 1 || notices[0] != noticeBotNeedsThreadRights {
		t.Fatalf("expected rights notice, got %v", notices)
	}
}

func TestRelayEditedFromUserMarksSuperseding(t *testing.T) {
	fs := mappedStore(7, 42)
	fs.staffMessageIDForFn = func(_ context.Context, userID, userMessageID int64) (int64, bool, error) {
		if userMessageID == 10 {
			return 1010, true, nil
		}
		return 0, false, nil
	}
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayEditedFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
	if err != nil {
		t.Fatalf("RelayEditedFromUser: %v", err)
	}

	call := ft.recordedMirrors()[0]
	if !call.opts.Supersedes {
		t.Fatal("edit copy must carry the superseded marker")
	}
	if call.opts.ReplyToID != 1010 {
		t.Fatalf("edit copy should reply to the original's mirror, got %d", call.opts.ReplyToID)
	}

	// The new link shares the origin ID; newest wins on later lookups.
	links := fs.recordedLinks()
	if len(links) != 1 || links[0].OriginMessageID != 10 {
		t.Fatalf("expected a fresh link for the edit copy, got %+v", links)
	}
}

func TestRelayEditedFromUserSwallowsDeliveryFaults(t *testing.T) {
	for _, fault := range []error{transport.ErrThreadNotFound, transport.ErrContentNotMirrorable} {
		fs := mappedStore(7, 42)
		deletes := 0
		fs.deleteUserThreadFn = func(context.Context, int64) error {
			deletes++
			return nil
		}
		ft := &fakeTransport{
			mirrorMessageFn: func(context.Context, transport.MessageRef, transport.Destination, transport.MirrorOptions) (int64, error) {
				return 0, fault
			},
		}
		svc := newTestService(fs, ft)

		err := svc.RelayEditedFromUser(context.Background(), User{ID: 7}, Message{ChatID: 7, MessageID: 10})
		if err != nil {
			t.Fatalf("fault %v should be swallowed for edits, got %v", fault, err)
		}
		if deletes != 0 {
			t.Fatalf("edits must not trigger self-heal, got %d deletes", deletes)
		}
	}
}

func TestRelayFromStaffMirrorsToUser(t *testing.T) {
	fs := mappedStore(7, 42)
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayFromStaff(context.Background(), 42, Message{ChatID: testWorkspaceID, MessageID: 300})
	if err != nil {
		t.Fatalf("RelayFromStaff: %v", err)
	}

	mirrors := ft.recordedMirrors()
	if len(mirrors) != 1 || mirrors[0].dest.ChatID != 7 || mirrors[0].dest.ThreadID != 0 {
		t.Fatalf("expected mirror into the user's chat, got %+v", mirrors)
	}

	links := fs.recordedLinks()
	if len(links) != 1 || links[0].SenderType != store.SenderStaff || links[0].OriginMessageID != 300 {
		t.Fatalf("unexpected link: %+v", links)
	}
}

func TestRelayFromStaffResolvesReplyContext(t *testing.T) {
	fs := mappedStore(7, 42)
	fs.userMessageIDForFn = func(_ context.Context, threadID, staffMessageID int64) (int64, bool, error) {
		if threadID == 42 && staffMessageID == 1010 {
			return 10, true, nil
		}
		return 0, false, nil
	}
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)

	err := svc.RelayFromStaff(context.Background(), 42, Message{ChatID: testWorkspaceID, MessageID: 300, ReplyToID: 1010})
	if err != nil {
		t.Fatalf("RelayFromStaff: %v", err)
	}
	if got := ft.recordedMirrors()[0].opts.ReplyToID; got != 10 {
		t.Fatalf("expected reply anchored to user message 10, got %d", got)
	}
}

func TestRelayFromStaffUnmappedThreadNotifiesThread(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(&fakeStore{}, ft)

	err := svc.RelayFromStaff(context.Background(), 42, Message{ChatID: testWorkspaceID, MessageID: 300})
	if err != nil {
		t.Fatalf("RelayFromStaff: %v", err)
	}
	if len(ft.recordedMirrors()) != 0 {
		t.Fatal("nothing should be mirrored for an unmapped thread")
	}
	notices := ft.recordedNotices()
	if len(notices) != 1 || notices[0] != noticeNoUserForThread {
		t.Fatalf("expected in-thread notice, got %v", notices)
	}
}

func TestStaffEditNotice(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(&fakeStore{}, ft)

	if err := svc.StaffEditNotice(context.Background(), 42); err != nil {
		t.Fatalf("StaffEditNotice: %v", err)
	}
	notices := ft.recordedNotices()
	if len(notices) != 1 || !strings.Contains(notices[0], "not supported") {
		t.Fatalf("expected edit notice, got %v", notices)
	}
}

func TestRoundTripCorrelation(t *testing.T) {
	// A full exchange: user message in, staff reply out, user reply back —
	// every direction resolves its counterpart from the links written by
	// the preceding step.
	links := map[[2]int64]int64{} // (sender-side scope, message) -> counterpart
	fs := mappedStore(7, 42)
	fs.insertMessageLinkFn = func(_ context.Context, link store.MessageLink) (int64, error) {
		links[[2]int64{link.UserID, link.OriginMessageID}] = link.MirroredMessageID
		return 1, nil
	}
	fs.staffMessageIDForFn = func(_ context.Context, userID, userMessageID int64) (int64, bool, error) {
		id, ok := links[[2]int64{userID, userMessageID}]
		return id, ok, nil
	}
	fs.userMessageIDForFn = func(_ context.Context, _ int64, staffMessageID int64) (int64, bool, error) {
		for key, mirrored := range links {
			if mirrored == staffMessageID {
				return key[1], true, nil
			}
		}
		return 0, false, nil
	}
	ft := &fakeTransport{}
	svc := newTestService(fs, ft)
	ctx := context.Background()

	if err := svc.RelayFromUser(ctx, User{ID: 7}, Message{ChatID: 7, MessageID: 10}); err != nil {
		t.Fatalf("user message: %v", err)
	}
	// Staff replies to the mirrored copy (1010 by the fake's convention).
	if err := svc.RelayFromStaff(ctx, 42, Message{ChatID: testWorkspaceID, MessageID: 300, ReplyToID: 1010}); err != nil {
		t.Fatalf("staff reply: %v", err)
	}

	mirrors := ft.recordedMirrors()
	if len(mirrors) != 2 {
		t.Fatalf("expected 2 mirrors, got %d", len(mirrors))
	}
	if mirrors[1].opts.ReplyToID != 10 {
		t.Fatalf("staff reply should anchor to the user's original, got %d", mirrors[1].opts.ReplyToID)
	}
}
