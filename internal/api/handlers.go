// Package api exposes the adjustment engine over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/preferences"
)

// Deps are the services the handlers call into.
type Deps struct {
	Engine        *adjustments.Engine
	Preferences   *preferences.Store
	Resolver      *preferences.Resolver
	Notifications *notifications.Dispatcher
	Logger        *slog.Logger
}

// RegisterRoutes mounts the upstream intake route and the user-facing
// routes under /api.
func RegisterRoutes(r gin.IRouter, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	api := r.Group("/api")
	api.POST("/candidates", SubmitCandidateHandler(deps))

	user := api.Group("", RequireUser())
	user.GET("/adjustments", ListAdjustmentsHandler(deps))
	user.GET("/adjustments/:id", GetAdjustmentHandler(deps))
	user.POST("/adjustments/:id/decision", DecideHandler(deps))
	user.POST("/adjustments/:id/undo", UndoHandler(deps))
	user.GET("/preferences", GetPreferencesHandler(deps))
	user.PUT("/preferences", UpdatePreferencesHandler(deps))
	user.GET("/notifications", ListNotificationsHandler(deps))
	user.POST("/notifications/:id/read", MarkNotificationReadHandler(deps))
	user.POST("/notifications/:id/dismiss", DismissNotificationHandler(deps))
}

// SubmitCandidateHandler accepts a suggested adjustment from upstream analytics
func SubmitCandidateHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adjustments.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := deps.Engine.Submit(c.Request.Context(), req)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}

		// Suppressed submissions leave no trace
		if result.Suppressed {
			c.JSON(http.StatusOK, gin.H{"suppressed": true})
			return
		}

		// A repeated submission id reports the candidate it already created
		if result.Duplicate {
			c.JSON(http.StatusOK, gin.H{
				"suppressed": false,
				"duplicate":  true,
				"policy":     result.Policy,
				"candidate":  newCandidateView(result.Candidate),
			})
			return
		}

		superseded := make([]string, 0, len(result.Superseded))
		for _, id := range result.Superseded {
			superseded = append(superseded, id.String())
		}
		c.JSON(http.StatusCreated, gin.H{
			"suppressed": false,
			"policy":     result.Policy,
			"candidate":  newCandidateView(result.Candidate),
			"superseded": superseded,
		})
	}
}

// ListAdjustmentsHandler lists pending candidates, or a day's full history
// when ?day= is given
func ListAdjustmentsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := currentUser(c)

		if day := c.Query("day"); day != "" {
			history, err := deps.Engine.History(c.Request.Context(), userID, day)
			if err != nil {
				writeError(c, deps.Logger, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"adjustments": newCandidateViews(history)})
			return
		}

		pending, err := deps.Engine.ListPending(c.Request.Context(), userID)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"adjustments": newCandidateViews(pending)})
	}
}

// GetAdjustmentHandler returns one candidate
func GetAdjustmentHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := candidateID(c)
		if !ok {
			return
		}

		candidate, err := deps.Engine.Get(c.Request.Context(), currentUser(c), id)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, newCandidateView(candidate))
	}
}

type decisionRequest struct {
	Action  string          `json:"action" binding:"required"`
	Reason  string          `json:"reason"`
	Signals json.RawMessage `json:"signals"`
}

// DecideHandler approves or rejects a pending candidate
func DecideHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := candidateID(c)
		if !ok {
			return
		}

		var body decisionRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
			return
		}

		candidate, err := deps.Engine.Decide(c.Request.Context(), adjustments.DecideRequest{
			CandidateID: id,
			UserID:      currentUser(c),
			Action:      body.Action,
			Reason:      body.Reason,
			Signals:     body.Signals,
		})
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, newCandidateView(candidate))
	}
}

type undoRequest struct {
	Signals json.RawMessage `json:"signals"`
}

// UndoHandler reverts an applied candidate
func UndoHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := candidateID(c)
		if !ok {
			return
		}

		// The body is optional
		var body undoRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		candidate, err := deps.Engine.Undo(c.Request.Context(), adjustments.UndoRequest{
			CandidateID: id,
			UserID:      currentUser(c),
			Signals:     body.Signals,
		})
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, newCandidateView(candidate))
	}
}

// GetPreferencesHandler returns the caller's resolved preferences, creating
// the stored row on first use
func GetPreferencesHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefs, err := deps.Preferences.GetOrCreate(c.Request.Context(), currentUser(c))
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, deps.Resolver.Effective(prefs))
	}
}

// UpdatePreferencesHandler merges a partial update into the caller's preferences
func UpdatePreferencesHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update preferences.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		prefs, err := deps.Preferences.Apply(c.Request.Context(), currentUser(c), update)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, deps.Resolver.Effective(prefs))
	}
}

// ListNotificationsHandler lists live notifications; ?unread=true narrows
// to unread ones
func ListNotificationsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		list, err := deps.Notifications.List(c.Request.Context(), currentUser(c), unread, limit)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}

		out := make([]notificationView, 0, len(list))
		for i := range list {
			out = append(out, newNotificationView(&list[i]))
		}
		c.JSON(http.StatusOK, gin.H{"notifications": out})
	}
}

// MarkNotificationReadHandler marks a notification as read (idempotent)
func MarkNotificationReadHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := notificationID(c)
		if !ok {
			return
		}

		n, err := deps.Notifications.MarkRead(c.Request.Context(), currentUser(c), id)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, newNotificationView(n))
	}
}

// DismissNotificationHandler hides a notification (idempotent)
func DismissNotificationHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := notificationID(c)
		if !ok {
			return
		}

		n, err := deps.Notifications.Dismiss(c.Request.Context(), currentUser(c), id)
		if err != nil {
			writeError(c, deps.Logger, err)
			return
		}
		c.JSON(http.StatusOK, newNotificationView(n))
	}
}

func candidateID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return uuid.Nil, false
	}
	return id, true
}

func notificationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return uint(id), true
}
