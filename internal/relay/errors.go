package relay

import "errors"

// Provisioning faults. Each is recoverable at the engine boundary with its
// own fallback; none is fatal to the process.
var (
	// ErrWorkspaceUnreachable: the staff workspace chat does not exist or
	// the bot cannot see it.
	ErrWorkspaceUnreachable = errors.New("no access to the staff workspace")
	// ErrWorkspaceLacksThreading: the workspace exists but has no thread
	// support enabled.
	ErrWorkspaceLacksThreading = errors.New("staff workspace has no thread support")
	// ErrBotLacksThreadRights: the bot is in the workspace but may not
	// manage threads.
	ErrBotLacksThreadRights = errors.New("bot lacks thread management rights")
)
