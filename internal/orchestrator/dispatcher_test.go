package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

type fakePlugin struct {
	name    string
	risk    Risk
	riskOK  bool
	execute func(ctx context.Context, action Action, rc RuntimeConfig) ([]session.Finding, error)
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Matches(action Action) bool { return action.Tool == p.name }

func (p *fakePlugin) RiskClassify(Action) (Risk, bool) { return p.risk, p.riskOK }

func (p *fakePlugin) Execute(ctx context.Context, action Action, rc RuntimeConfig) ([]session.Finding, error) {
	if p.execute != nil {
		return p.execute(ctx, action, rc)
	}
	return nil, nil
}

func admittedAction(tool, target string) Action {
	return Action{
		ID:     NewActionID(),
		Tool:   tool,
		Target: target,
		State:  StateAdmitted,
	}
}

func newTestDispatcher(t *testing.T, workers int, timeout time.Duration, plugins ...Plugin) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(NewRegistry(plugins...), workers, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	d.SetRetryBackoff(time.Millisecond)
	return d
}

func TestDispatchNoPlugin(t *testing.T) {
	d := newTestDispatcher(t, 2, time.Second)

	result := d.Dispatch(context.Background(), admittedAction("nmap", "192.168.1.10"), RuntimeConfig{})
	require.ErrorIs(t, result.Err, ErrNoPlugin)
	assert.Equal(t, StateFailed, result.Action.State)
}

func TestDispatchCompletesAndStampsFindings(t *testing.T) {
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(_ context.Context, _ Action, _ RuntimeConfig) ([]session.Finding, error) {
			return []session.Finding{
				{Category: "open_port", Severity: "info", Evidence: map[string]string{"port": "22"}},
				{Category: "open_port", Severity: "weird", Evidence: map[string]string{"port": "80"}},
			}, nil
		},
	}
	d := newTestDispatcher(t, 2, time.Second, plugin)
	action := admittedAction("nmap", "192.168.1.10")

	result := d.Dispatch(context.Background(), action, RuntimeConfig{SessionID: "sess-1"})
	require.NoError(t, result.Err)
	assert.Equal(t, StateCompleted, result.Action.State)
	require.Len(t, result.Findings, 2)
	for _, finding := range result.Findings {
		assert.Equal(t, "sess-1", finding.SessionID)
		assert.Equal(t, action.ID, finding.ActionID)
		assert.Equal(t, "192.168.1.10", finding.Target)
		assert.False(t, finding.TS.IsZero())
	}
	assert.Equal(t, session.SeverityInfo, result.Findings[1].Severity, "unknown severity normalizes to info")
}

func TestDispatchTimeoutDiscardsPartialOutput(t *testing.T) {
	calls := 0
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(ctx context.Context, _ Action, _ RuntimeConfig) ([]session.Finding, error) {
			calls++
			<-ctx.Done()
			return []session.Finding{{Category: "open_port"}}, ctx.Err()
		},
	}
	d := newTestDispatcher(t, 2, 30*time.Millisecond, plugin)

	result := d.Dispatch(context.Background(), admittedAction("nmap", "192.168.1.10"), RuntimeConfig{})
	require.ErrorIs(t, result.Err, ErrActionTimeout)
	assert.Equal(t, StateTimedOut, result.Action.State)
	assert.Empty(t, result.Findings)
	assert.Equal(t, 1, calls, "an exhausted budget is never retried")
}

func TestDispatchExecutionError(t *testing.T) {
	calls := 0
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(context.Context, Action, RuntimeConfig) ([]session.Finding, error) {
			calls++
			return nil, errors.New("binary not found")
		},
	}
	d := newTestDispatcher(t, 2, time.Second, plugin)

	result := d.Dispatch(context.Background(), admittedAction("nmap", "192.168.1.10"), RuntimeConfig{})
	require.ErrorIs(t, result.Err, ErrActionExecution)
	assert.Equal(t, StateFailed, result.Action.State)
	assert.Contains(t, result.Err.Error(), "binary not found")
	assert.Equal(t, 2, calls, "a failed execution gets one bounded retry")
}

func TestDispatchRetriesTransientExecutionFailure(t *testing.T) {
	calls := 0
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(context.Context, Action, RuntimeConfig) ([]session.Finding, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset")
			}
			return []session.Finding{{Category: "open_port", Severity: session.SeverityInfo}}, nil
		},
	}
	d := newTestDispatcher(t, 2, time.Second, plugin)

	result := d.Dispatch(context.Background(), admittedAction("nmap", "192.168.1.10"), RuntimeConfig{SessionID: "sess-1"})
	require.NoError(t, result.Err)
	assert.Equal(t, StateCompleted, result.Action.State)
	assert.Equal(t, 2, calls)
	require.Len(t, result.Findings, 1)
}

func TestDispatchCanceledBeforeStart(t *testing.T) {
	plugin := &fakePlugin{name: "nmap"}
	d := newTestDispatcher(t, 1, time.Second, plugin)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.Dispatch(ctx, admittedAction("nmap", "192.168.1.10"), RuntimeConfig{})
	require.Error(t, result.Err)
	assert.Equal(t, StateFailed, result.Action.State)
	assert.NotErrorIs(t, result.Err, ErrActionTimeout)
}

func TestDispatchSamePairNeverOverlaps(t *testing.T) {
	var inFlight, peak int32
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(context.Context, Action, RuntimeConfig) ([]session.Finding, error) {
			current := atomic.AddInt32(&inFlight, 1)
			for {
				observed := atomic.LoadInt32(&peak)
				if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		},
	}
	d := newTestDispatcher(t, 4, time.Second, plugin)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := d.Dispatch(context.Background(), admittedAction("nmap", "192.168.1.10"), RuntimeConfig{})
			assert.NoError(t, result.Err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak),
		"actions sharing (tool, target) must serialize")
}

func TestDispatchDisjointPairsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(ctx context.Context, _ Action, _ RuntimeConfig) ([]session.Finding, error) {
			started.Done()
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	d := newTestDispatcher(t, 2, 5*time.Second, plugin)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		target := fmt.Sprintf("192.168.1.%d", 10+i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := d.Dispatch(context.Background(), admittedAction("nmap", target), RuntimeConfig{})
			assert.NoError(t, result.Err)
		}()
	}

	// Both executions must be in flight at once before either is released.
	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disjoint (tool, target) pairs did not run concurrently")
	}
	close(release)
	wg.Wait()
}

func TestDispatchHonorsWorkerBound(t *testing.T) {
	var inFlight, peak int32
	plugin := &fakePlugin{
		name: "nmap",
		execute: func(context.Context, Action, RuntimeConfig) ([]session.Finding, error) {
			current := atomic.AddInt32(&inFlight, 1)
			for {
				observed := atomic.LoadInt32(&peak)
				if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		},
	}
	d := newTestDispatcher(t, 2, time.Second, plugin)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		target := fmt.Sprintf("192.168.1.%d", 10+i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), admittedAction("nmap", target), RuntimeConfig{})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRegistryFirstMatchWins(t *testing.T) {
	first := &fakePlugin{name: "nmap"}
	second := &fakePlugin{name: "nmap"}
	registry := NewRegistry(first, second)

	matched, ok := registry.Match(Action{Tool: "nmap"})
	require.True(t, ok)
	assert.Same(t, Plugin(first), matched)

	_, ok = registry.Match(Action{Tool: "unknown"})
	assert.False(t, ok)
}
