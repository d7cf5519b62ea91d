package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rongwang/sitetrack-server/internal/api/testutils"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/service"
	"github.com/rongwang/sitetrack-server/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitResponse struct {
	Success         bool                   `json:"success"`
	Message         string                 `json:"message"`
	ApprovalRequest models.ApprovalRequest `json:"approvalRequest"`
}

type approveResponse struct {
	Success         bool                   `json:"success"`
	Message         string                 `json:"message"`
	ApprovalRequest models.ApprovalRequest `json:"approvalRequest"`
	Results         []models.ChangeResult  `json:"results"`
	Applied         int                    `json:"applied"`
	Failed          int                    `json:"failed"`
}

func submit(t *testing.T, testCtx *testutils.TestContext, token string, changes []tracker.Pending) *httptest.ResponseRecorder {
	t.Helper()
	return testutils.PerformRequest(testCtx.Router, http.MethodPost, "/approvals", models.ApprovalActionRequest{
		Action:  models.ActionSubmit,
		Changes: changes,
	}, testutils.AuthHeaders(token))
}

func submitOK(t *testing.T, testCtx *testutils.TestContext, changes ...tracker.Pending) models.ApprovalRequest {
	t.Helper()

	w := submit(t, testCtx, testCtx.InvestorJWT, changes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ApprovalRequest
}

func resolve(testCtx *testutils.TestContext, action, requestID string) *httptest.ResponseRecorder {
	return testutils.PerformRequest(testCtx.Router, http.MethodPost, "/approvals", models.ApprovalActionRequest{
		Action:    action,
		RequestID: requestID,
	}, testutils.AuthHeaders(testCtx.AdminJWT))
}

func notifications(t *testing.T, testCtx *testutils.TestContext, token string) []models.InvestorNotification {
	t.Helper()

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/approvals?type=notifications", nil,
		testutils.AuthHeaders(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Notifications []models.InvestorNotification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Notifications
}

func TestApprovalLifecycle(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx, tracker.Pending{
		ItemID:    "item-5",
		FieldName: "vendor",
		OldValue:  "Stone & Co",
		NewValue:  "Granite Ltd",
	})
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, testCtx.InvestorID, created.UserID)
	assert.Equal(t, "ivy", created.UserName)
	require.Len(t, created.Changes, 1)

	t.Run("InvestorCannotListRequests", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/approvals?type=requests", nil,
			testutils.AuthHeaders(testCtx.InvestorJWT))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("AdminListsPending", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/approvals?type=requests", nil,
			testutils.AuthHeaders(testCtx.AdminJWT))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			ApprovalRequests []models.ApprovalRequest `json:"approvalRequests"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.ApprovalRequests, 1)
		assert.Equal(t, created.ID, resp.ApprovalRequests[0].ID)
		require.Len(t, resp.ApprovalRequests[0].Changes, 1)
		assert.Equal(t, "Granite Ltd", resp.ApprovalRequests[0].Changes[0].NewValue)
	})

	t.Run("InvestorCannotApprove", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/approvals", models.ApprovalActionRequest{
			Action:    models.ActionApprove,
			RequestID: created.ID,
		}, testutils.AuthHeaders(testCtx.InvestorJWT))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, testCtx.Sheet.Writes())
	})

	t.Run("Approve", func(t *testing.T) {
		w := resolve(testCtx, models.ActionApprove, created.ID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp approveResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.Applied)
		assert.Equal(t, 0, resp.Failed)
		assert.Equal(t, models.StatusApproved, resp.ApprovalRequest.Status)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, models.ApplyApplied, resp.Results[0].Status)

		writes := testCtx.Sheet.Writes()
		require.Len(t, writes, 1)
		assert.Equal(t, 5, writes[0].RowIndex)
		assert.Equal(t, "E", writes[0].ColumnLetter)
		assert.Equal(t, "Granite Ltd", testCtx.Sheet.Cell(5, "E"))
	})

	t.Run("NotificationCreated", func(t *testing.T) {
		list := notifications(t, testCtx, testCtx.InvestorJWT)
		require.Len(t, list, 1)
		assert.Equal(t, models.NotificationApproved, list[0].Type)
		assert.Equal(t, created.ID, list[0].ApprovalRequestID)
		assert.Contains(t, list[0].Message, "1 of 1")
		assert.False(t, list[0].Read)

		assert.Empty(t, notifications(t, testCtx, testCtx.AdminJWT))
	})

	t.Run("ApproveTwiceConflicts", func(t *testing.T) {
		w := resolve(testCtx, models.ActionApprove, created.ID)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, service.CodeConflict, testutils.DecodeError(t, w).Error)

		w = resolve(testCtx, models.ActionReject, created.ID)
		assert.Equal(t, http.StatusConflict, w.Code)

		assert.Len(t, testCtx.Sheet.Writes(), 1)
		assert.Len(t, testCtx.Repository.NotificationsFor(testCtx.InvestorID), 1)
	})

	t.Run("SheetDataReflectsApproval", func(t *testing.T) {
		w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/sheet-data?q=hilltop", nil,
			testutils.AuthHeaders(testCtx.InvestorJWT))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Properties []map[string]any `json:"properties"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Properties, 1)
		assert.Equal(t, "Granite Ltd", resp.Properties[0]["vendor"])
	})

	t.Run("PendingListEmpty", func(t *testing.T) {
		requests, err := testCtx.Service.ListPendingRequests(t.Context(), models.Caller{Role: models.RoleAdmin})
		require.NoError(t, err)
		assert.Empty(t, requests)
	})
}

func TestApproveUnknownRequest(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := resolve(testCtx, models.ActionApprove, "does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = resolve(testCtx, models.ActionApprove, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectRequest(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx,
		tracker.Pending{ItemID: "item-2", FieldName: "status", OldValue: "In Progress", NewValue: "Complete"},
		tracker.Pending{ItemID: "item-2", FieldName: "progress", OldValue: "40%", NewValue: "100%"},
	)

	w := resolve(testCtx, models.ActionReject, created.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusRejected, resp.ApprovalRequest.Status)
	require.NotNil(t, resp.ApprovalRequest.ResolvedBy)
	assert.Equal(t, testCtx.AdminID, *resp.ApprovalRequest.ResolvedBy)

	assert.Empty(t, testCtx.Sheet.Writes(), "reject must not write to the sheet")
	assert.Equal(t, "In Progress", testCtx.Sheet.Cell(2, "F"))

	list := notifications(t, testCtx, testCtx.InvestorJWT)
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationRejected, list[0].Type)
	assert.Contains(t, list[0].Message, "2 change(s)")
}

func TestApprovePartialFailure(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	testCtx.Sheet.FailWritesTo(3)

	created := submitOK(t, testCtx,
		tracker.Pending{ItemID: "item-2", FieldName: "notes", OldValue: "Kitchen refit", NewValue: "Kitchen and bath"},
		tracker.Pending{ItemID: "item-3", FieldName: "status", OldValue: "Planning", NewValue: "In Progress"},
		tracker.Pending{ItemID: "item-99", FieldName: "status", OldValue: "", NewValue: "Complete"},
	)

	w := resolve(testCtx, models.ActionApprove, created.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp approveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, models.StatusApproved, resp.ApprovalRequest.Status)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, models.ApplyApplied, resp.Results[0].Status)
	assert.Equal(t, models.ApplyFailed, resp.Results[1].Status)
	assert.Contains(t, resp.Results[1].Error, "status 500")
	assert.Equal(t, models.ApplyFailed, resp.Results[2].Status)
	assert.Contains(t, resp.Results[2].Error, "item-99")

	stored, err := testCtx.Repository.GetApprovalRequest(t.Context(), created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Changes, 3)
	assert.Equal(t, models.ApplyApplied, stored.Changes[0].ApplyStatus)
	assert.Equal(t, models.ApplyFailed, stored.Changes[1].ApplyStatus)

	list := notifications(t, testCtx, testCtx.InvestorJWT)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, "1 of 3")
	assert.Contains(t, list[0].Message, "2 could not be written")
}

func TestSubmitValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	// Test case 1: Explicit empty batch
	w := submit(t, testCtx, testCtx.InvestorJWT, []tracker.Pending{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeEmptyBatch, testutils.DecodeError(t, w).Error)

	// Test case 2: No batch and nothing tracked
	w = submit(t, testCtx, testCtx.InvestorJWT, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeEmptyBatch, testutils.DecodeError(t, w).Error)

	// Test case 3: A field with no column stops the whole batch
	w = submit(t, testCtx, testCtx.InvestorJWT, []tracker.Pending{
		{ItemID: "item-2", FieldName: "vendor", OldValue: "Acme Build", NewValue: "Other"},
		{ItemID: "item-2", FieldName: "colour", OldValue: "", NewValue: "red"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeUnknownField, testutils.DecodeError(t, w).Error)

	// Test case 4: Unknown action
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/approvals",
		map[string]string{"action": "escalate"}, testutils.AuthHeaders(testCtx.InvestorJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 5: Unknown listing type
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/approvals?type=everything", nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	requests, err := testCtx.Repository.ListApprovalRequestsByStatus(t.Context(), models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, requests, "rejected submissions must not persist anything")
}

func TestPendingRequestsNewestFirst(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	first := submitOK(t, testCtx, tracker.Pending{ItemID: "item-2", FieldName: "floor", OldValue: "3", NewValue: "4"})
	second := submitOK(t, testCtx, tracker.Pending{ItemID: "item-3", FieldName: "floor", OldValue: "1", NewValue: "2"})

	requests, err := testCtx.Service.ListPendingRequests(t.Context(), models.Caller{Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.True(t, requests[0].SubmittedAt.After(requests[1].SubmittedAt))
	assert.Equal(t, []string{second.ID, first.ID}, []string{requests[0].ID, requests[1].ID})
}

func TestApproveWhileSheetUnavailable(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx, tracker.Pending{ItemID: "item-3", FieldName: "status", OldValue: "Planning", NewValue: "Started"})

	testCtx.Sheet.FailFetches(http.StatusServiceUnavailable)
	w := resolve(testCtx, models.ActionApprove, created.ID)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, service.CodeUpstreamFailure, testutils.DecodeError(t, w).Error)
	assert.Empty(t, testCtx.Sheet.Writes())
	assert.Empty(t, notifications(t, testCtx, testCtx.InvestorJWT))

	testCtx.Sheet.FailFetches(0)
	w = resolve(testCtx, models.ActionApprove, created.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, testCtx.Sheet.Writes(), 1)
}

func TestSubmitCollapsesExplicitBatch(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx,
		tracker.Pending{ItemID: "item-2", FieldName: "vendor", OldValue: "Acme Build", NewValue: "Northwind"},
		tracker.Pending{ItemID: "item-2", FieldName: "vendor", OldValue: "Northwind", NewValue: "Southwind"},
		tracker.Pending{ItemID: "item-3", FieldName: "floor", OldValue: "1", NewValue: "1"},
	)
	require.Len(t, created.Changes, 1, "one change per cell, no-op edits dropped")
	assert.Equal(t, "item-2", created.Changes[0].ItemID)
	assert.Equal(t, "Acme Build", created.Changes[0].OldValue)
	assert.Equal(t, "Southwind", created.Changes[0].NewValue)

	stored, err := testCtx.Repository.GetApprovalRequest(t.Context(), created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Changes, 1)

	w := resolve(testCtx, models.ActionApprove, created.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	writes := testCtx.Sheet.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, 2, writes[0].RowIndex)
	assert.Equal(t, "Southwind", writes[0].NewValue)

	// A batch made only of no-op edits is empty
	w = submit(t, testCtx, testCtx.InvestorJWT, []tracker.Pending{
		{ItemID: "item-3", FieldName: "floor", OldValue: "1", NewValue: "1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeEmptyBatch, testutils.DecodeError(t, w).Error)
}

func TestMarkNotificationRead(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx, tracker.Pending{ItemID: "item-3", FieldName: "vendor", OldValue: "BuildCo", NewValue: "BuildCo Pty"})
	require.Equal(t, http.StatusOK, resolve(testCtx, models.ActionReject, created.ID).Code)

	list := notifications(t, testCtx, testCtx.InvestorJWT)
	require.Len(t, list, 1)
	notificationID := list[0].ID

	// Test case 1: Another user may not mark it
	w := testutils.PerformRequest(testCtx.Router, http.MethodPut, "/approvals",
		models.MarkReadRequest{NotificationID: notificationID}, testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, service.CodeUnauthorized, testutils.DecodeError(t, w).Error)
	assert.Len(t, notifications(t, testCtx, testCtx.InvestorJWT), 1)

	// Test case 2: Owner marks it, twice
	for i := 0; i < 2; i++ {
		w = testutils.PerformRequest(testCtx.Router, http.MethodPut, "/approvals",
			models.MarkReadRequest{NotificationID: notificationID}, testutils.AuthHeaders(testCtx.InvestorJWT))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Empty(t, notifications(t, testCtx, testCtx.InvestorJWT))

	stored, err := testCtx.Repository.GetNotification(t.Context(), notificationID)
	require.NoError(t, err)
	assert.True(t, stored.Read)
	assert.NotNil(t, stored.ReadAt)

	// Test case 3: Unknown notification
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, "/approvals",
		models.MarkReadRequest{NotificationID: "missing"}, testutils.AuthHeaders(testCtx.InvestorJWT))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Test case 4: Missing id
	w = testutils.PerformRequest(testCtx.Router, http.MethodPut, "/approvals",
		map[string]string{}, testutils.AuthHeaders(testCtx.InvestorJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConcurrentApprove(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	created := submitOK(t, testCtx,
		tracker.Pending{ItemID: "item-2", FieldName: "spent", OldValue: "45,500", NewValue: "50,000"},
		tracker.Pending{ItemID: "item-3", FieldName: "spent", OldValue: "0", NewValue: "1,000"},
	)

	const numGoroutines = 10
	codes := make(chan int, numGoroutines)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- resolve(testCtx, models.ActionApprove, created.ID).Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, 1, counts[http.StatusOK], "exactly one approve should win")
	assert.Equal(t, numGoroutines-1, counts[http.StatusConflict])

	assert.Len(t, testCtx.Sheet.Writes(), 2, "each change is written once")
	assert.Len(t, testCtx.Repository.NotificationsFor(testCtx.InvestorID), 1)
}
