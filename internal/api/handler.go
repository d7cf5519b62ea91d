package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/service"
	"github.com/rongwang/sitetrack-server/internal/sheets"
	"github.com/rongwang/sitetrack-server/internal/utils"
)

// Handler serves the HTTP API
type Handler struct {
	svc service.Service
	log *utils.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, log *utils.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// SetupRoutes registers every route. authLimiter guards the credential
// exchange endpoint.
func (h *Handler) SetupRoutes(router *gin.Engine, authLimiter gin.HandlerFunc) {
	router.GET("/health", h.Health)

	if authLimiter == nil {
		authLimiter = func(c *gin.Context) { c.Next() }
	}
	router.POST("/auth", authLimiter, h.Authorize)

	authed := router.Group("/", AuthMiddleware(h.svc))
	{
		authed.GET("/auth/me", h.Me)
		authed.PATCH("/auth/profile", h.UpdateProfile)

		authed.GET("/approvals", h.GetApprovals)
		authed.POST("/approvals", h.PostApprovals)
		authed.PUT("/approvals", h.MarkNotificationRead)

		authed.GET("/sheet-data", h.GetSheetData)
		authed.POST("/sheet-data", RequireRole(models.RoleAdmin), h.WriteCell)

		authed.GET("/changes", h.ListChanges)
		authed.POST("/changes", h.TrackChange)
		authed.DELETE("/changes", h.ClearChanges)
	}
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Health(ctx); err != nil {
		h.log.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Authentication

func (h *Handler) Authorize(c *gin.Context) {
	var req models.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "mode must be login or register")
		return
	}

	resp, err := h.svc.Authorize(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if req.Mode == models.AuthModeRegister {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (h *Handler) Me(c *gin.Context) {
	caller, _ := currentCaller(c)
	resp, err := h.svc.GetProfile(c.Request.Context(), caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	caller, _ := currentCaller(c)

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	resp, err := h.svc.UpdateProfile(c.Request.Context(), caller, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Approvals

func (h *Handler) GetApprovals(c *gin.Context) {
	caller, _ := currentCaller(c)

	switch c.Query("type") {
	case "requests":
		requests, err := h.svc.ListPendingRequests(c.Request.Context(), caller)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"approvalRequests": requests})
	case "notifications":
		notifications, err := h.svc.ListNotifications(c.Request.Context(), caller)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": notifications})
	default:
		badRequest(c, "type must be requests or notifications")
	}
}

func (h *Handler) PostApprovals(c *gin.Context) {
	caller, _ := currentCaller(c)

	var req models.ApprovalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "action is required")
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case models.ActionSubmit:
		created, err := h.svc.SubmitChanges(ctx, caller, req.Changes)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success":         true,
			"message":         fmt.Sprintf("%d change(s) submitted for approval", len(created.Changes)),
			"approvalRequest": created,
		})

	case models.ActionApprove:
		result, err := h.svc.ApproveRequest(ctx, caller, req.RequestID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		message := fmt.Sprintf("Request approved: %d change(s) applied", result.Applied)
		if result.Failed > 0 {
			message += fmt.Sprintf(", %d failed", result.Failed)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         result.Failed == 0,
			"message":         message,
			"approvalRequest": result.Request,
			"results":         result.Results,
			"applied":         result.Applied,
			"failed":          result.Failed,
		})

	case models.ActionReject:
		result, err := h.svc.RejectRequest(ctx, caller, req.RequestID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         "Request rejected",
			"approvalRequest": result.Request,
		})

	default:
		badRequest(c, "action must be submit, approve or reject")
	}
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	caller, _ := currentCaller(c)

	var req models.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "notificationId is required")
		return
	}

	if err := h.svc.MarkNotificationRead(c.Request.Context(), caller, req.NotificationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Notification marked as read"})
}

// Sheet data

func (h *Handler) GetSheetData(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	filter := sheets.Filter{
		Category: c.Query("category"),
		Status:   c.Query("status"),
		Query:    c.Query("q"),
	}

	resp, err := h.svc.GetSheetData(c.Request.Context(), filter, refresh)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) WriteCell(c *gin.Context) {
	caller, _ := currentCaller(c)

	var req models.CellUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "rowIndex and columnLetter are required")
		return
	}

	if err := h.svc.WriteCell(c.Request.Context(), caller, req); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cell updated"})
}

// Change tracking

func (h *Handler) TrackChange(c *gin.Context) {
	caller, _ := currentCaller(c)

	var req models.TrackChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "itemId and fieldName are required")
		return
	}

	resp, err := h.svc.TrackChange(c.Request.Context(), caller, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListChanges(c *gin.Context) {
	caller, _ := currentCaller(c)
	pending := h.svc.PendingChanges(caller)
	c.JSON(http.StatusOK, gin.H{"count": len(pending), "pending": pending})
}

func (h *Handler) ClearChanges(c *gin.Context) {
	caller, _ := currentCaller(c)
	h.svc.ClearPendingChanges(caller)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Pending changes cleared"})
}
