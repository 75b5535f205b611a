package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/service"
)

// ─────────────────────────────────────────────────────────────
// RunningJobsGuard tests
// ─────────────────────────────────────────────────────────────

func TestRunningGuard_TryLock(t *testing.T) {
	var g service.ExportedRunningGuard

	require.True(t, g.TryLock("posts"), "first TryLock succeeds")
	assert.False(t, g.TryLock("posts"), "second TryLock for the same table fails")
	assert.True(t, g.TryLock("users"), "TryLock for a different table succeeds")
	assert.True(t, g.Running("posts"))
	g.Unlock("posts")
	g.Unlock("users")

	assert.False(t, g.Running("posts"))
	require.True(t, g.TryLock("posts"), "TryLock succeeds after unlock")
	g.Unlock("posts")
}

func TestRunningGuard_TryLockAll(t *testing.T) {
	var g service.ExportedRunningGuard
	require.True(t, g.TryLock("posts"))

	locked, busy := g.TryLockAll([]string{"posts", "users", "tags"})
	assert.Equal(t, []string{"users", "tags"}, locked)
	assert.Equal(t, []string{"posts"}, busy)

	g.UnlockAll(locked)
	g.Unlock("posts")
	assert.False(t, g.Running("users"))
}

func TestRunningGuard_WaitAll(t *testing.T) {
	var g service.ExportedRunningGuard
	require.True(t, g.TryLock("posts"))

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("posts")
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("WaitAll timed out")
	}
}

// ─────────────────────────────────────────────────────────────
// Emitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, service.EventPassFinished, map[string]string{"foo": "bar"})
	m.Emit(ctx, service.EventConfigChanged, nil)
	m.Emit(ctx, service.EventPassFinished, nil)

	require.Len(t, m.Events, 3)
	assert.Equal(t, service.EventPassFinished, m.Events[0].Event)
	assert.Equal(t, 2, m.Count(service.EventPassFinished))
	assert.Equal(t, 0, m.Count(service.EventRelationsFinished))
}

func TestLogEmitter_NilLogger(t *testing.T) {
	service.LogEmitter{}.Emit(context.Background(), service.EventPassFinished, nil)
}

// ─────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────

func TestSyncService_WaitRunning_Immediate(t *testing.T) {
	svc := service.NewSyncService(nil, nil, service.Options{})

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		svc.WaitRunning(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitRunning hung with no running syncs")
	}
}

func TestSyncService_Stop_Idempotent(t *testing.T) {
	svc := service.NewSyncService(nil, nil, service.Options{})
	svc.Stop()
	svc.Stop()
}
