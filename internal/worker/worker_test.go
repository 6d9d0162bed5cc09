package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSweeper struct {
	sweeps    int
	sweepErr  error
	applied   bool
	applyErr  error
	appliedID uuid.UUID
}

func (f *fakeSweeper) Sweep(context.Context) (adjustments.SweepResult, error) {
	f.sweeps++
	return adjustments.SweepResult{Due: 2, Applied: 1}, f.sweepErr
}

func (f *fakeSweeper) AutoApply(_ context.Context, id uuid.UUID) (bool, error) {
	f.appliedID = id
	return f.applied, f.applyErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestHandleSweep(t *testing.T) {
	s := &fakeSweeper{}
	handler := handleSweep(discardLogger(), s)

	require.NoError(t, handler(context.Background(), newSweepTask()))
	require.Equal(t, 1, s.sweeps)

	s.sweepErr = errors.New("db down")
	require.Error(t, handler(context.Background(), newSweepTask()))
}

func TestHandleAutoApply(t *testing.T) {
	id := uuid.New()
	task, err := newAutoApplyTask(id, 2)
	require.NoError(t, err)
	require.Equal(t, TaskAutoApply, task.Type())

	var payload autoApplyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 2, payload.Attempt)

	tests := []struct {
		name      string
		applied   bool
		err       error
		wantErr   bool
		wantRetry bool
	}{
		{name: "applied", applied: true},
		{name: "not due", applied: false},
		{name: "lost race", err: adjustments.ErrAlreadyDecided},
		{name: "busy", err: adjustments.ErrCandidateBusy},
		{name: "apply failed", err: fmt.Errorf("%w: timeout", adjustments.ErrExternalApplyFailed)},
		{name: "not found", err: adjustments.ErrNotFound, wantErr: true},
		{name: "database error", err: errors.New("connection reset"), wantErr: true, wantRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSweeper{applied: tt.applied, applyErr: tt.err}
			err := handleAutoApply(discardLogger(), s)(context.Background(), task)
			require.Equal(t, id, s.appliedID)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, !tt.wantRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleAutoApplyRejectsBadPayload(t *testing.T) {
	s := &fakeSweeper{}
	handler := handleAutoApply(discardLogger(), s)

	err := handler(context.Background(), asynq.NewTask(TaskAutoApply, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskAutoApply, []byte(`{"candidate_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, uuid.Nil, s.appliedID)
}

func TestAutoApplyTaskIDIsStablePerAttempt(t *testing.T) {
	id := uuid.New()
	require.Equal(t, autoApplyTaskID(id, 0), autoApplyTaskID(id, 0))
	require.NotEqual(t, autoApplyTaskID(id, 0), autoApplyTaskID(id, 1))
	require.True(t, strings.HasPrefix(autoApplyTaskID(id, 0), "auto_apply:"+id.String()))
}

func TestNewLogger(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))

	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "candidate_id", "c-1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "plan-adjust", line["service"])
	require.Equal(t, "c-1", line["candidate_id"])
}

func TestMuxRoutesTasks(t *testing.T) {
	s := &fakeSweeper{applied: true}
	mux := newMux(discardLogger(), s)

	require.NoError(t, mux.ProcessTask(context.Background(), newSweepTask()))
	require.Equal(t, 1, s.sweeps)

	task, err := newAutoApplyTask(uuid.New(), 0)
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
}

func TestErrorHandlerLogsCandidate(t *testing.T) {
	var buf bytes.Buffer
	handle := makeErrorHandler(newLogger(&buf, "debug", "json"))

	id := uuid.New()
	task, err := newAutoApplyTask(id, 1)
	require.NoError(t, err)
	handle(context.Background(), task, errors.New("db down"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, id.String(), entry["candidate_id"])
	require.Equal(t, "ERROR", entry["level"])

	buf.Reset()
	handle(context.Background(), newSweepTask(), errors.New("db down"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, TaskSweep, entry["task_type"])
}

func TestLogSweepEnqueue(t *testing.T) {
	var buf bytes.Buffer
	log := logSweepEnqueue(newLogger(&buf, "info", "json"))

	log(nil, fmt.Errorf("enqueue: %w", asynq.ErrDuplicateTask))
	require.Empty(t, buf.String())

	log(nil, errors.New("redis down"))
	require.Contains(t, buf.String(), "Failed to enqueue sweep")
}
