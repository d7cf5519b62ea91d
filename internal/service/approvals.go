package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/queue"
	"github.com/rongwang/sitetrack-server/internal/repository"
	"github.com/rongwang/sitetrack-server/internal/tracker"
)

// Change tracking

// TrackChange records an investor edit in the session tracker. Admin edits
// are written straight through to the sheet instead.
func (s *DefaultService) TrackChange(
	ctx context.Context,
	caller models.Caller,
	req models.TrackChangeRequest,
) (*models.TrackChangeResponse, error) {
	if _, ok := s.columns.Letter(req.FieldName); !ok {
		return nil, unknownField(req.FieldName)
	}

	t := s.trackers.For(caller.SessionID)
	mode := t.Track(req.ItemID, req.FieldName, req.OldValue, req.NewValue, caller.Role)

	resp := &models.TrackChangeResponse{Mode: mode}
	if mode == tracker.Direct {
		if err := s.ensureRowsLoaded(ctx); err != nil {
			return nil, err
		}
		if err := s.writeItemCell(ctx, req.ItemID, req.FieldName, req.NewValue); err != nil {
			return nil, err
		}
		resp.Written = true
		s.log.Info("direct cell edit", "user_id", caller.UserID, "item_id", req.ItemID, "field", req.FieldName)
	}

	resp.Pending = t.List()
	resp.Count = len(resp.Pending)
	return resp, nil
}

func (s *DefaultService) PendingChanges(caller models.Caller) []tracker.Pending {
	return s.trackers.For(caller.SessionID).List()
}

func (s *DefaultService) ClearPendingChanges(caller models.Caller) {
	s.trackers.Drop(caller.SessionID)
}

// Approval workflow

// SubmitChanges persists a batch as a pending approval request. A nil
// batch submits the caller's tracked edits; an empty one is rejected.
func (s *DefaultService) SubmitChanges(
	ctx context.Context,
	caller models.Caller,
	changes []tracker.Pending,
) (*models.ApprovalRequest, error) {
	t := s.trackers.For(caller.SessionID)
	if changes == nil {
		changes = t.List()
	} else {
		var err error
		if changes, err = s.collapseBatch(changes); err != nil {
			return nil, err
		}
	}
	if len(changes) == 0 {
		return nil, invalidInput(CodeEmptyBatch, "there are no changes to submit")
	}

	req := &models.ApprovalRequest{
		ID:          uuid.New().String(),
		UserID:      caller.UserID,
		UserName:    caller.Username,
		Status:      models.StatusPending,
		SubmittedAt: s.now(),
		Changes:     make([]models.Change, 0, len(changes)),
	}

	for _, change := range changes {
		req.Changes = append(req.Changes, models.Change{
			ID:        uuid.New().String(),
			ItemID:    change.ItemID,
			FieldName: change.FieldName,
			OldValue:  change.OldValue,
			NewValue:  change.NewValue,
		})
	}

	if err := s.repo.CreateApprovalRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("error creating approval request: %w", err)
	}

	t.Clear()

	s.log.Info("approval request submitted",
		"request_id", req.ID, "user_id", req.UserID, "changes", len(req.Changes))
	return req, nil
}

// collapseBatch applies the tracker rules to a batch sent by the client:
// one entry per item and field keeping the first oldValue, no-op edits
// dropped.
func (s *DefaultService) collapseBatch(changes []tracker.Pending) ([]tracker.Pending, error) {
	batch := tracker.New()
	for i, change := range changes {
		if strings.TrimSpace(change.ItemID) == "" || strings.TrimSpace(change.FieldName) == "" {
			return nil, invalidInput(CodeInvalidInput, fmt.Sprintf("change %d: itemId and fieldName are required", i))
		}
		if _, ok := s.columns.Letter(change.FieldName); !ok {
			return nil, unknownField(change.FieldName)
		}
		batch.Track(change.ItemID, change.FieldName, change.OldValue, change.NewValue, models.RoleInvestor)
	}
	return batch.List(), nil
}

func (s *DefaultService) ListPendingRequests(ctx context.Context, caller models.Caller) ([]models.ApprovalRequest, error) {
	if !caller.IsAdmin() {
		return nil, forbidden("only admins can review approval requests")
	}

	requests, err := s.repo.ListApprovalRequestsByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("error listing approval requests: %w", err)
	}
	return requests, nil
}

// ApproveRequest writes every change to the sheet, records which ones were
// applied, resolves the request and notifies the investor. A failed cell
// write is reported in the results and does not stop the remaining writes.
// When the sheet cannot be loaded at all nothing is resolved.
func (s *DefaultService) ApproveRequest(
	ctx context.Context,
	caller models.Caller,
	requestID string,
) (*models.ApproveResult, error) {
	req, unlock, err := s.beginResolution(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Without rows no change can be located; the request stays pending
	if err := s.ensureRowsLoaded(ctx); err != nil {
		s.log.Warn("sheet refresh before approve failed", "request_id", req.ID, "error", err)
		return nil, err
	}

	result := &models.ApproveResult{Results: make([]models.ChangeResult, 0, len(req.Changes))}
	outcomes := make([]models.ChangeOutcome, 0, len(req.Changes))

	for _, change := range req.Changes {
		res := models.ChangeResult{
			ChangeID:  change.ID,
			ItemID:    change.ItemID,
			FieldName: change.FieldName,
			Status:    models.ApplyApplied,
		}

		if err := s.writeItemCell(ctx, change.ItemID, change.FieldName, change.NewValue); err != nil {
			res.Status = models.ApplyFailed
			res.Error = clientMessage(err)
			result.Failed++
			s.log.Warn("change not applied",
				"request_id", req.ID, "change_id", change.ID, "item_id", change.ItemID, "error", err)
		} else {
			result.Applied++
		}

		result.Results = append(result.Results, res)
		outcomes = append(outcomes, models.ChangeOutcome{ChangeID: change.ID, Status: res.Status, Error: res.Error})
	}

	message := fmt.Sprintf("Your change request was approved: %d of %d change(s) applied.",
		result.Applied, len(req.Changes))
	if result.Failed > 0 {
		message += fmt.Sprintf(" %d could not be written to the sheet.", result.Failed)
	}

	resolved, notification, err := s.resolve(ctx, caller, req, models.StatusApproved, models.NotificationApproved, message, outcomes)
	if err != nil {
		return nil, err
	}

	for i := range resolved.Changes {
		resolved.Changes[i].ApplyStatus = outcomes[i].Status
		resolved.Changes[i].ApplyError = outcomes[i].Error
	}
	result.Request = resolved

	s.publish(ctx, resolved, notification.ID, result.Applied, result.Failed)
	return result, nil
}

// RejectRequest resolves the request without touching the sheet
func (s *DefaultService) RejectRequest(
	ctx context.Context,
	caller models.Caller,
	requestID string,
) (*models.RejectResult, error) {
	req, unlock, err := s.beginResolution(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	message := fmt.Sprintf("Your change request with %d change(s) was rejected.", len(req.Changes))
	resolved, notification, err := s.resolve(ctx, caller, req, models.StatusRejected, models.NotificationRejected, message, nil)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, resolved, notification.ID, 0, 0)
	return &models.RejectResult{Request: resolved}, nil
}

// beginResolution checks the caller, takes the per-request lock and loads
// the request, which must still be pending.
func (s *DefaultService) beginResolution(
	ctx context.Context,
	caller models.Caller,
	requestID string,
) (*models.ApprovalRequest, func(), error) {
	if !caller.IsAdmin() {
		return nil, nil, forbidden("only admins can resolve approval requests")
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, nil, invalidInput(CodeMissingFields, "requestId is required")
	}

	unlock, ok, err := s.locker.TryLock(ctx, "approval:"+requestID, s.lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("error locking approval request: %w", err)
	}
	if !ok {
		return nil, nil, conflict("approval request is already being processed")
	}

	req, err := s.repo.GetApprovalRequest(ctx, requestID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("error getting approval request: %w", err)
	}
	if req == nil {
		unlock()
		return nil, nil, notFound("approval request not found")
	}
	if req.Status != models.StatusPending {
		unlock()
		return nil, nil, conflict(fmt.Sprintf("approval request is already %s", req.Status))
	}

	return req, unlock, nil
}

func (s *DefaultService) resolve(
	ctx context.Context,
	caller models.Caller,
	req *models.ApprovalRequest,
	status, notificationType, message string,
	outcomes []models.ChangeOutcome,
) (*models.ApprovalRequest, *models.InvestorNotification, error) {
	now := s.now()
	notification := &models.InvestorNotification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Message:   message,
		Type:      notificationType,
		CreatedAt: now,
	}

	err := s.repo.ResolveApprovalRequest(ctx, &models.Resolution{
		RequestID:    req.ID,
		Status:       status,
		ResolvedBy:   caller.UserID,
		ResolvedAt:   now,
		Outcomes:     outcomes,
		Notification: notification,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil, conflict("approval request is no longer pending")
		}
		return nil, nil, fmt.Errorf("error resolving approval request: %w", err)
	}

	resolvedBy := caller.UserID
	req.Status = status
	req.ResolvedAt = &now
	req.ResolvedBy = &resolvedBy

	s.log.Info("approval request resolved",
		"request_id", req.ID, "status", status, "admin_id", caller.UserID)
	return req, notification, nil
}

func (s *DefaultService) publish(ctx context.Context, req *models.ApprovalRequest, notificationID string, applied, failed int) {
	event := queue.ApprovalResolvedEvent{
		RequestID:      req.ID,
		Status:         req.Status,
		InvestorID:     req.UserID,
		InvestorName:   req.UserName,
		NotificationID: notificationID,
		Changes:        len(req.Changes),
		Applied:        applied,
		Failed:         failed,
		ResolvedAt:     s.now(),
	}
	if req.ResolvedBy != nil {
		event.ResolvedBy = *req.ResolvedBy
	}
	if req.ResolvedAt != nil {
		event.ResolvedAt = *req.ResolvedAt
	}
	if err := s.events.PublishApprovalResolved(ctx, event); err != nil {
		s.log.Warn("failed to publish approval event", "request_id", req.ID, "error", err)
	}
}

// Notifications

func (s *DefaultService) ListNotifications(ctx context.Context, caller models.Caller) ([]models.InvestorNotification, error) {
	notifications, err := s.repo.ListUnreadNotifications(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead is idempotent for the owner and refused for anyone else
func (s *DefaultService) MarkNotificationRead(ctx context.Context, caller models.Caller, notificationID string) error {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("error getting notification: %w", err)
	}
	if n == nil {
		return notFound("notification not found")
	}
	if n.UserID != caller.UserID {
		return notOwner("notification belongs to another user")
	}
	if n.Read {
		return nil
	}

	if err := s.repo.MarkNotificationRead(ctx, notificationID, s.now()); err != nil {
		return fmt.Errorf("error marking notification read: %w", err)
	}
	return nil
}

func unknownField(field string) error {
	return invalidInput(CodeUnknownField, fmt.Sprintf("field %q has no column mapping", field))
}

// clientMessage returns the client-safe part of an error
func clientMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "internal error"
}
