package models

import (
	"time"

	"github.com/rongwang/sitetrack-server/internal/sheets"
	"github.com/rongwang/sitetrack-server/internal/tracker"
)

// Auth modes
const (
	AuthModeLogin    = "login"
	AuthModeRegister = "register"
)

// Approval actions
const (
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Request models
type AuthRequest struct {
	Mode       string `json:"mode" binding:"required,oneof=login register"`
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode"`
}

type UpdateProfileRequest struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

type ApprovalActionRequest struct {
	Action    string            `json:"action" binding:"required"`
	Changes   []tracker.Pending `json:"changes"`
	RequestID string            `json:"requestId"`
}

type MarkReadRequest struct {
	NotificationID string `json:"notificationId" binding:"required"`
}

type TrackChangeRequest struct {
	ItemID    string `json:"itemId" binding:"required"`
	FieldName string `json:"fieldName" binding:"required"`
	OldValue  string `json:"oldValue"`
	NewValue  string `json:"newValue"`
}

type CellUpdateRequest struct {
	RowIndex     int    `json:"rowIndex" binding:"required,min=1"`
	ColumnLetter string `json:"columnLetter" binding:"required"`
	NewValue     string `json:"newValue"`
}

// Response models
type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

type AuthResponse struct {
	Status    string       `json:"status"`
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expiresIn"`
	User      UserResponse `json:"user"`
}

// ChangeResult reports whether one change reached the sheet
type ChangeResult struct {
	ChangeID  string `json:"changeId"`
	ItemID    string `json:"itemId"`
	FieldName string `json:"fieldName"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type ApproveResult struct {
	Request *ApprovalRequest `json:"request"`
	Results []ChangeResult   `json:"results"`
	Applied int              `json:"applied"`
	Failed  int              `json:"failed"`
}

type RejectResult struct {
	Request *ApprovalRequest `json:"request"`
}

type TrackChangeResponse struct {
	Mode    tracker.Mode      `json:"mode"`
	Written bool              `json:"written"`
	Count   int               `json:"count"`
	Pending []tracker.Pending `json:"pending"`
}

type SheetDataResponse struct {
	Properties    []sheets.Property `json:"properties"`
	Total         int               `json:"total"`
	LastRefreshed *time.Time        `json:"lastRefreshed,omitempty"`
}

// ErrorResponse is the envelope for every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
