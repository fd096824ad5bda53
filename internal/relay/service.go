// Package relay implements the correlation engine between end users and
// the staff workspace: lazy thread provisioning, message mirroring with
// reply threading, and self-healing of stale thread mappings.
package relay

import (
	"context"
	"fmt"
	"sync"

	"relaydesk/internal/config"
	"relaydesk/internal/greeting"
	"relaydesk/internal/store"
	"relaydesk/internal/transport"
)

// User identifies an end user on the chat platform. The display name only
// matters when a thread is provisioned, as its title.
type User struct {
	ID          int64
	DisplayName string
}

// Message references a message to relay. ReplyToID is the message the
// sender replied to in their own chat, zero when not a reply.
type Message struct {
	ChatID    int64
	MessageID int64
	ReplyToID int64
}

type dataStore interface {
	CreateUserThread(ctx context.Context, userID, threadID int64) error
	DeleteUserThread(ctx context.Context, userID int64) error
	ThreadIDByUser(ctx context.Context, userID int64) (int64, bool, error)
	UserIDByThread(ctx context.Context, threadID int64) (int64, bool, error)
	InsertMessageLink(ctx context.Context, link store.MessageLink) (int64, error)
	StaffMessageIDFor(ctx context.Context, userID, userMessageID int64) (int64, bool, error)
	UserMessageIDFor(ctx context.Context, threadID, staffMessageID int64) (int64, bool, error)
	Ping(ctx context.Context) error
}

type greetingStore interface {
	Greeting(ctx context.Context) (string, error)
	SetGreeting(ctx context.Context, text string) error
}

type chatTransport interface {
	GetChat(ctx context.Context, chatID int64) (transport.ChatInfo, error)
	HasThreadManagementRights(ctx context.Context, chatID int64) (bool, error)
	CreateThread(ctx context.Context, chatID int64, title string) (int64, error)
	MirrorMessage(ctx context.Context, src transport.MessageRef, dest transport.Destination, opts transport.MirrorOptions) (int64, error)
	Notify(ctx context.Context, dest transport.Destination, text string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	greetings greetingStore
	transport chatTransport

	lockMu    sync.Mutex
	userLocks map[int64]*sync.Mutex
}

// New builds a service keeping the greeting in Postgres alongside the
// relay tables.
func New(cfg config.Config, dataStore *store.PostgresStore, client *transport.Client) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		greetings: dataStore,
		transport: client,
		userLocks: make(map[int64]*sync.Mutex),
	}
}

// NewWithGreetingStore builds a service keeping the greeting in Redis.
func NewWithGreetingStore(cfg config.Config, dataStore *store.PostgresStore, greetings *greeting.RedisStore, client *transport.Client) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		greetings: greetings,
		transport: client,
		userLocks: make(map[int64]*sync.Mutex),
	}
}

func (s *Service) Greeting(ctx context.Context) (string, error) {
	return s.greetings.Greeting(ctx)
}

func (s *Service) SetGreeting(ctx context.Context, text string) error {
	return s.greetings.SetGreeting(ctx, text)
}

// SetPromptMode announces the user's chosen working mode in their staff
// thread and confirms it to the user. Provisioning faults propagate to the
// caller's error boundary, as for any other relayed event.
func (s *Service) SetPromptMode(ctx context.Context, user User, mode int) error {
	if mode < 0 || mode >= len(s.cfg.PromptModes) {
		return fmt.Errorf("prompt mode %d out of range", mode)
	}
	threadID, err := s.threadForUser(ctx, user)
	if err != nil {
		return err
	}
	label := s.cfg.PromptModes[mode]
	staffDest := transport.Destination{ChatID: s.cfg.WorkspaceChatID, ThreadID: threadID}
	if err := s.transport.Notify(ctx, staffDest, fmt.Sprintf("The user switched the bot mode to %q", label)); err != nil {
		return fmt.Errorf("announce prompt mode: %w", err)
	}
	userDest := transport.Destination{ChatID: user.ID}
	if err := s.transport.Notify(ctx, userDest, fmt.Sprintf("You selected %q", label)); err != nil {
		return fmt.Errorf("confirm prompt mode: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
