// Package transport talks to the chat platform's Bot API. It owns all
// timeouts and maps the platform's error descriptions onto sentinel errors
// the relay engine can branch on.
package transport

import "errors"

var (
	// ErrChatNotFound: the requested chat does not exist or the bot has no
	// access to it.
	ErrChatNotFound = errors.New("chat not found")
	// ErrThreadNotFound: the destination thread was deleted on the platform
	// side while a mapping for it still exists.
	ErrThreadNotFound = errors.New("message thread not found")
	// ErrContentNotMirrorable: the platform refuses to copy this message
	// (content policy, protected content, unsupported type).
	ErrContentNotMirrorable = errors.New("message cannot be copied")
)

// ChatInfo describes a chat as reported by the platform.
type ChatInfo struct {
	ID              int64
	Title           string
	SupportsThreads bool
}

// MessageRef identifies a message to copy.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Destination is where a message or notice lands. ThreadID zero targets the
// chat's default (non-threaded) surface.
type Destination struct {
	ChatID   int64
	ThreadID int64
}

// MirrorOptions adjust a single mirror call. ReplyToID zero means no reply
// threading. Supersedes marks the copy as replacing an earlier message.
type MirrorOptions struct {
	ReplyToID  int64
	Supersedes bool
}
