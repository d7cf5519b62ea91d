package models

import (
	"time"
)

// Roles
const (
	RoleAdmin    = "admin"
	RoleInvestor = "investor"
)

// Approval request statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Per-change apply outcomes recorded when a request is approved
const (
	ApplyApplied = "applied"
	ApplyFailed  = "failed"
)

// Notification types
const (
	NotificationApproved = "approved"
	NotificationRejected = "rejected"
)

// User represents a user in the system
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Username  *string   `db:"username" json:"username,omitempty"`
	Password  string    `db:"password" json:"-"` // Password hash, not returned in JSON
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// DisplayName is the username when set, otherwise the email
func (u *User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return u.Email
}

// ApprovalRequest is a batch of investor edits awaiting an admin decision
type ApprovalRequest struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"userId"`
	UserName    string     `db:"user_name" json:"userName"`
	Status      string     `db:"status" json:"status"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submittedAt"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
	ResolvedBy  *string    `db:"resolved_by" json:"resolvedBy,omitempty"`
	Changes     []Change   `db:"-" json:"changes"`
}

// Change is one proposed cell edit within an ApprovalRequest
type Change struct {
	ID                string `db:"id" json:"id"`
	ApprovalRequestID string `db:"approval_request_id" json:"approvalRequestId"`
	Position          int    `db:"position" json:"-"`
	ItemID            string `db:"item_id" json:"itemId"`
	FieldName         string `db:"field_name" json:"fieldName"`
	OldValue          string `db:"old_value" json:"oldValue"`
	NewValue          string `db:"new_value" json:"newValue"`
	ApplyStatus       string `db:"apply_status" json:"applyStatus,omitempty"`
	ApplyError        string `db:"apply_error" json:"applyError,omitempty"`
}

// InvestorNotification tells an investor how their request was resolved
type InvestorNotification struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"userId"`
	ApprovalRequestID string     `db:"approval_request_id" json:"approvalRequestId"`
	Message           string     `db:"message" json:"message"`
	Type              string     `db:"type" json:"type"`
	Read              bool       `db:"is_read" json:"read"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	ReadAt            *time.Time `db:"read_at" json:"readAt,omitempty"`
}

// ChangeOutcome is the apply result of one change
type ChangeOutcome struct {
	ChangeID string
	Status   string
	Error    string
}

// Resolution moves a pending request to a terminal status together with
// its notification and per-change outcomes.
type Resolution struct {
	RequestID    string
	Status       string
	ResolvedBy   string
	ResolvedAt   time.Time
	Outcomes     []ChangeOutcome
	Notification *InvestorNotification
}

// Caller is the identity resolved from a verified session token
type Caller struct {
	UserID    string
	Role      string
	Username  string
	SessionID string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
