package audit

import "time"

// Status marks the outcome of the action an entry describes.
type Status string

const (
	// StatusSuccess marks a completed action.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure marks a denied or failed action.
	StatusFailure Status = "FAILURE"
)

// AnonymousUser is recorded when no authenticated actor exists.
const AnonymousUser = "anonymous"

// Action taxonomy used at the HTTP boundary.
const (
	ActionLogin          = "LOGIN"
	ActionRegister       = "REGISTER"
	ActionProfileUpdate  = "PROFILE_UPDATE"
	ActionPasswordChange = "PASSWORD_CHANGE"
	ActionUpdateUser     = "UPDATE_USER"
	ActionDeleteUser     = "DELETE_USER"
	ActionUpdateRole     = "UPDATE_ROLE"
	ActionAssignRole     = "ASSIGN_ROLE"
	ActionRemoveRole     = "REMOVE_ROLE"
)

// Entry is one append-only audit record. Entries are never updated or deleted
// by the system itself.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Username  string    `json:"username"`
	Target    string    `json:"target,omitempty"`
	Details   string    `json:"details,omitempty"`
	Status    Status    `json:"status"`
}
