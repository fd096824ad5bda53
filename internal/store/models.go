package store

import "time"

// Sender values recorded on a message link.
const (
	SenderUser  = "user"
	SenderStaff = "staff"
)

// UserThread maps an end user to the staff-side discussion thread dedicated
// to them. A user has at most one live thread and a thread belongs to at
// most one user; rows are created and deleted, never updated.
type UserThread struct {
	ID        int64
	UserID    int64
	ThreadID  int64
	CreatedAt time.Time
}

// MessageLink records one relayed message: the identifier the sender saw
// (origin) and the identifier of the copy placed on the counterpart side
// (mirrored). Links are append-only; deleting a user's thread mapping does
// not remove their link history.
type MessageLink struct {
	ID                int64
	UserID            int64
	OriginMessageID   int64
	MirroredMessageID int64
	SenderType        string
	CreatedAt         time.Time
}
