package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/jimdaga/plan-adjust/internal/database/dbtest"
	"github.com/jimdaga/plan-adjust/internal/models"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/planstore"
	"github.com/jimdaga/plan-adjust/internal/preferences"
	"github.com/stretchr/testify/require"
)

type stubPlanStore struct {
	fail    atomic.Bool
	applies atomic.Int32
}

func (s *stubPlanStore) ApplyDelta(context.Context, planstore.Delta) error {
	if s.fail.Load() {
		return errors.New("unavailable")
	}
	s.applies.Add(1)
	return nil
}

func (s *stubPlanStore) RevertDelta(context.Context, planstore.Delta) error {
	if s.fail.Load() {
		return errors.New("unavailable")
	}
	return nil
}

type testServer struct {
	router *gin.Engine
	plans  *stubPlanStore
	now    *atomic.Int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t)
	defaults := preferences.SystemDefaults()
	prefs := preferences.NewStore(db, defaults)
	resolver := preferences.NewResolver(defaults)
	dispatcher := notifications.NewDispatcher(db, nil, nil)

	ts := &testServer{plans: &stubPlanStore{}, now: &atomic.Int64{}}
	ts.now.Store(time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC).Unix())
	clock := func() time.Time { return time.Unix(ts.now.Load(), 0).UTC() }
	dispatcher.WithClock(clock)

	engine := adjustments.NewEngine(db, resolver, prefs, ts.plans, dispatcher, adjustments.Options{
		ApplyTimeout: time.Second,
		Now:          clock,
	})

	ts.router = gin.New()
	RegisterRoutes(ts.router, Deps{
		Engine:        engine,
		Preferences:   prefs,
		Resolver:      resolver,
		Notifications: dispatcher,
	})
	return ts
}

func (ts *testServer) advance(d time.Duration) {
	ts.now.Add(int64(d / time.Second))
}

func (ts *testServer) do(t *testing.T, method, path string, userID uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(UserIDHeader, fmt.Sprint(userID))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) submit(t *testing.T, userID uint, trigger, domain string) candidateView {
	t.Helper()
	payload := json.RawMessage(`{"calories_delta":150}`)
	if domain == models.DomainTraining {
		payload = json.RawMessage(`{"volume_multiplier":0.8}`)
	}
	w := ts.do(t, http.MethodPost, "/api/candidates", 0, adjustments.SubmitRequest{
		UserID:      userID,
		Day:         "2026-10-18",
		Domain:      domain,
		TriggerType: trigger,
		Confidence:  0.7,
		Payload:     payload,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Candidate candidateView `json:"candidate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Candidate
}

func TestRequireUser(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/adjustments", 0, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/adjustments", nil)
	req.Header.Set(UserIDHeader, "abc")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	w = ts.do(t, http.MethodGet, "/api/adjustments", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/api/adjustments", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/adjustments", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", UserIDHeader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/adjustments", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitAndDecideFlow(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, 1, models.TriggerHighStress, models.DomainNutrition)
	require.Equal(t, models.CandidateStatusPending, c.Status)

	w := ts.do(t, http.MethodGet, "/api/adjustments", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Adjustments []candidateView `json:"adjustments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Adjustments, 1)

	// Someone else's candidate is invisible
	w = ts.do(t, http.MethodGet, "/api/adjustments/"+c.ID, 2, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decided candidateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decided))
	require.Equal(t, models.CandidateStatusApproved, decided.Status)

	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "reject"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "already decided")

	w = ts.do(t, http.MethodGet, "/api/adjustments?day=2026-10-18", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Adjustments, 1)
	require.Equal(t, models.CandidateStatusApproved, list.Adjustments[0].Status)

	w = ts.do(t, http.MethodGet, "/api/adjustments?day=tomorrow", 1, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecideErrors(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, 1, models.TriggerLowAdherence, models.DomainNutrition)

	w := ts.do(t, http.MethodPost, "/api/adjustments/not-a-uuid/decision", 1, gin.H{"action": "approve"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "later"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	ts.plans.fail.Store(true)
	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "approve"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "couldn't apply, try again")
}

func TestUndoEndpoint(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, 1, models.TriggerInjury, models.DomainTraining)

	w := ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/undo", 1, nil)
	require.Equal(t, http.StatusConflict, w.Code, "pending candidates cannot be undone")

	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code)

	ts.advance(25 * time.Hour)
	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/undo", 1, nil)
	require.Equal(t, http.StatusGone, w.Code)
}

func TestUndoWithinWindow(t *testing.T) {
	ts := newTestServer(t)
	c := ts.submit(t, 1, models.TriggerInjury, models.DomainTraining)

	w := ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/decision", 1, gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code)

	ts.advance(time.Hour)
	w = ts.do(t, http.MethodPost, "/api/adjustments/"+c.ID+"/undo", 1, gin.H{"signals": gin.H{"pain": 2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var undone candidateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &undone))
	require.Equal(t, models.CandidateStatusUndone, undone.Status)
	require.Nil(t, undone.ApprovedAt)
}

func TestSuppressedSubmission(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/preferences", 1, gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/candidates", 0, adjustments.SubmitRequest{
		UserID:      1,
		Day:         "2026-10-18",
		Domain:      models.DomainTraining,
		TriggerType: models.TriggerPoorSleep,
		Confidence:  0.9,
		Payload:     json.RawMessage(`{"volume_multiplier":0.5}`),
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"suppressed":true}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/candidates", 0, gin.H{"user_id": 1, "day": "bad"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreferencesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/preferences", 3, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view preferences.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.True(t, view.Enabled)
	require.Equal(t, 120, view.GracePeriodMinutes)
	require.Equal(t, models.PolicyAutoApply, view.Policies[models.DomainTraining][models.TriggerPoorSleep])

	w = ts.do(t, http.MethodPut, "/api/preferences", 3, gin.H{
		"grace_period_minutes": 30,
		"policies":             gin.H{"training": gin.H{"poor_sleep": "ask_me"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, 30, view.GracePeriodMinutes)
	require.Equal(t, models.PolicyAskMe, view.Policies[models.DomainTraining][models.TriggerPoorSleep])

	w = ts.do(t, http.MethodPut, "/api/preferences", 3, gin.H{"undo_window_hours": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.submit(t, 4, models.TriggerMissedWorkout, models.DomainTraining)

	w := ts.do(t, http.MethodGet, "/api/notifications?unread=true", 4, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Notifications []notificationView `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	require.Equal(t, models.NotificationAdjustmentPending, list.Notifications[0].Type)
	id := list.Notifications[0].ID

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", id), 4, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/notifications?unread=true", 4, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Empty(t, list.Notifications)

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/notifications/%d/dismiss", id), 5, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/notifications/%d/dismiss", id), 4, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/notifications", 4, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Empty(t, list.Notifications)
}

func TestSubmitRepeatedSubmissionID(t *testing.T) {
	ts := newTestServer(t)
	req := adjustments.SubmitRequest{
		SubmissionID: "analytics-42",
		UserID:       6,
		Day:          "2026-10-18",
		Domain:       models.DomainNutrition,
		TriggerType:  models.TriggerHighStress,
		Confidence:   0.7,
		Payload:      json.RawMessage(`{"calories_delta":150}`),
	}

	w := ts.do(t, http.MethodPost, "/api/candidates", 0, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Candidate candidateView `json:"candidate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = ts.do(t, http.MethodPost, "/api/candidates", 0, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var repeated struct {
		Duplicate bool          `json:"duplicate"`
		Candidate candidateView `json:"candidate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repeated))
	require.True(t, repeated.Duplicate)
	require.Equal(t, created.Candidate.ID, repeated.Candidate.ID)
}

func TestClassify(t *testing.T) {
	status, msg := classify(adjustments.ErrCandidateBusy)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "this adjustment is being applied right now, try again shortly", msg)

	status, msg = classify(adjustments.ErrPendingSlotTaken)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "another suggestion for this day arrived at the same time, try again", msg)

	status, msg = classify(adjustments.ErrAlreadyDecided)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "this was already decided", msg)

	status, msg = classify(fmt.Errorf("%w: boom", adjustments.ErrExternalRevertFailed))
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, "couldn't undo, try again", msg)

	status, _ = classify(errors.New("db gone"))
	require.Equal(t, http.StatusInternalServerError, status)
}
