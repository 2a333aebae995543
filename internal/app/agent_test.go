package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/observesync/internal/config"
	"github.com/classboard/observesync/internal/queue"
	syncpkg "github.com/classboard/observesync/internal/sync"
	"github.com/classboard/observesync/internal/transport"
)

type recordingDeliverer struct {
	mu    sync.Mutex
	items []queue.MutationRecord
}

func (d *recordingDeliverer) Deliver(_ context.Context, _ string, items []queue.MutationRecord) ([]transport.ItemResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, items...)

	results := make([]transport.ItemResult, 0, len(items))
	for _, it := range items {
		results = append(results, transport.ItemResult{ID: it.ID, Success: true})
	}
	return results, nil
}

func agentConfig(t *testing.T) *config.AgentConfig {
	t.Helper()
	return &config.AgentConfig{
		DataDir:   t.TempDir(),
		ServerURL: "http://localhost:8080",
		UserID:    "teacher-1",
	}
}

func TestNewAgentApp_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewAgentApp(nil)
	assert.Error(t, err)
}

func TestAgentApp_SubmitAndFlushRoundTrip(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	agent, err := NewAgentApp(agentConfig(t), WithDeliverer(deliverer))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	// Capture while "offline", then let the restore trigger flush it
	agent.Monitor().SetOnline(false)
	outcome, err := agent.Orchestrator().Submit(ctx, queue.ActionCreateObservation, "/api/sync", []byte(`{"studentId":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, syncpkg.OutcomeQueued, outcome, "write should queue while offline")

	agent.Monitor().SetOnline(true)

	require.Eventually(t, func() bool {
		deliverer.mu.Lock()
		defer deliverer.mu.Unlock()
		return len(deliverer.items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := agent.Publisher().Snapshot()
	assert.True(t, snap.IsOnline)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not shut down")
	}
}

func TestAgentApp_BackgroundWakeFlushes(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	agent, err := NewAgentApp(agentConfig(t), WithDeliverer(deliverer))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()

	agent.Worker().Wake()

	select {
	case outcome := <-agent.Worker().Outcomes():
		assert.NoError(t, outcome.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a background wake outcome")
	}
}
