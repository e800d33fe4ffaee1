package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/metrics"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap/zaptest"
)

var _ Recorder = (*metrics.Collector)(nil)
var _ FindingsRecorder = (*metrics.Collector)(nil)

func newTestCoordinator(t *testing.T, decider DecisionMaker, worker Worker, agg Aggregator, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(decider, worker, agg, cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return c
}

func TestCoordinator_BudgetTermination(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 4

	var workerCalls atomic.Int32
	worker := WorkerFunc(func(_ context.Context, topic string) (*WorkerResult, error) {
		workerCalls.Add(1)
		return &WorkerResult{CompressedSummary: topic}, nil
	})
	agg := &recordingAggregator{}
	c := newTestCoordinator(t, alwaysDelegate(1), worker, agg, cfg)

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationBudgetExhausted, res.Termination)
	assert.Equal(t, 4, res.Iterations)
	// 第 4 轮的委派不会派发
	assert.Equal(t, int32(3), workerCalls.Load())
	assert.Equal(t, []string{"i1-t0", "i2-t0", "i3-t0"}, res.Notes)
	assert.Equal(t, 1, agg.calls)
	assert.False(t, res.Degraded)
}

func TestCoordinator_PriorityBudgetBeatsCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 2

	decider := sequence(
		decisionOf(thinkCall("r1", "plan")),
		decisionOf(completeCall("done"), delegateCall("d1", "late")),
	)
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, cfg)

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationBudgetExhausted, res.Termination)
	assert.Equal(t, 2, res.Iterations)
}

func TestCoordinator_CompletionBeatsDelegation(t *testing.T) {
	var called atomic.Bool
	worker := WorkerFunc(func(context.Context, string) (*WorkerResult, error) {
		called.Store(true)
		return &WorkerResult{CompressedSummary: "x"}, nil
	})
	decider := sequence(decisionOf(delegateCall("d1", "a"), completeCall("done")))
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationResearchComplete, res.Termination)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, called.Load())
}

func TestCoordinator_FanOutPreservesRequestOrder(t *testing.T) {
	latency := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond, "c": 20 * time.Millisecond}
	var mu sync.Mutex
	var finished []string
	worker := WorkerFunc(func(ctx context.Context, topic string) (*WorkerResult, error) {
		select {
		case <-time.After(latency[topic]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		mu.Lock()
		finished = append(finished, topic)
		mu.Unlock()
		return &WorkerResult{CompressedSummary: "summary " + topic, RawNotes: []string{topic + "1", topic + "2"}}, nil
	})
	decider := sequence(
		decisionOf(delegateCall("ca", "a"), delegateCall("cb", "b"), delegateCall("cc", "c")),
		decisionOf(completeCall("done")),
	)
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, finished)
	assert.Equal(t, []string{"summary a", "summary b", "summary c"}, res.Notes)
	assert.Equal(t, []string{"a1\na2", "b1\nb2", "c1\nc2"}, res.RawNotes)

	var ids []string
	for _, m := range res.Transcript {
		if m.Role == types.RoleTool {
			ids = append(ids, m.ToolCallID)
			assert.Equal(t, ConductResearchToolName, m.Name)
		}
	}
	assert.Equal(t, []string{"ca", "cb", "cc"}, ids)
}

func TestCoordinator_BoundedConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 2

	var inflight, peak, total atomic.Int32
	worker := WorkerFunc(func(_ context.Context, topic string) (*WorkerResult, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inflight.Add(-1)
		total.Add(1)
		return &WorkerResult{CompressedSummary: topic}, nil
	})
	decider := sequence(
		decisionOf(delegateCall("1", "t1"), delegateCall("2", "t2"), delegateCall("3", "t3"), delegateCall("4", "t4"), delegateCall("5", "t5")),
		decisionOf(completeCall("done")),
	)
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, cfg)

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, int32(5), total.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, res.Notes, 5)
}

func TestCoordinator_PartialFailureDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 4

	worker := WorkerFunc(func(_ context.Context, topic string) (*WorkerResult, error) {
		if topic == "i2-t1" {
			return nil, errors.New("search backend down")
		}
		return &WorkerResult{CompressedSummary: "summary " + topic}, nil
	})
	agg := &recordingAggregator{}
	rec := newFakeRecorder()
	c := newTestCoordinator(t, alwaysDelegate(2), worker, agg, cfg, WithRecorder(rec))

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationDelegationFailed, res.Termination)
	assert.True(t, res.Degraded)
	assert.Equal(t, 2, res.Iterations)
	assert.NotEmpty(t, res.Report)
	assert.Equal(t, []string{"summary i1-t0", "summary i1-t1"}, res.Notes)
	assert.Equal(t, res.Notes, agg.notes)
	assert.Equal(t, 1, rec.delegations["failed"])
	assert.Equal(t, 1, rec.delegations["success"])
	assert.Equal(t, []string{string(TerminationDelegationFailed)}, rec.runs)

	// 失败批次不留下任何 tool 结果
	for _, m := range res.Transcript {
		if m.Role == types.RoleTool {
			assert.NotContains(t, m.ToolCallID, "c2-")
		}
	}
}

func TestCoordinator_WorkerPanicDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 4

	worker := WorkerFunc(func(_ context.Context, topic string) (*WorkerResult, error) {
		if topic == "i2-t0" {
			panic("worker blew up")
		}
		return &WorkerResult{CompressedSummary: "summary " + topic}, nil
	})
	agg := &recordingAggregator{}
	rec := newFakeRecorder()
	c := newTestCoordinator(t, alwaysDelegate(1), worker, agg, cfg, WithRecorder(rec))

	var (
		res *Result
		err error
	)
	require.NotPanics(t, func() {
		res, err = c.Execute(context.Background(), "brief")
	})
	require.NoError(t, err)
	assert.Equal(t, TerminationDelegationFailed, res.Termination)
	assert.True(t, res.Degraded)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"summary i1-t0"}, res.Notes)
	assert.Equal(t, res.Notes, agg.notes)
	assert.Equal(t, 1, rec.delegations["failed"])
}

func TestCoordinator_FailureCancelsSiblings(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})
	worker := WorkerFunc(func(ctx context.Context, topic string) (*WorkerResult, error) {
		if topic == "bad" {
			<-started
			return nil, errors.New("boom")
		}
		close(started)
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &WorkerResult{CompressedSummary: "late"}, nil
		}
	})
	decider := sequence(decisionOf(delegateCall("1", "slow"), delegateCall("2", "bad")))
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, DefaultConfig())

	start := time.Now()
	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, cancelled.Load())
	assert.Equal(t, TerminationDelegationFailed, res.Termination)
	assert.Empty(t, res.Notes)
}

func TestCoordinator_WorkerTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 20 * time.Millisecond

	worker := WorkerFunc(func(ctx context.Context, _ string) (*WorkerResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	decider := sequence(decisionOf(delegateCall("1", "hang")))
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, cfg)

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationDelegationFailed, res.Termination)
	assert.True(t, res.Degraded)
}

func TestCoordinator_NilWorkerResultIsFailure(t *testing.T) {
	worker := WorkerFunc(func(context.Context, string) (*WorkerResult, error) { return nil, nil })
	decider := sequence(decisionOf(delegateCall("1", "x")))
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationDelegationFailed, res.Termination)
}

func TestCoordinator_EmptySummarySentinel(t *testing.T) {
	worker := WorkerFunc(func(context.Context, string) (*WorkerResult, error) {
		return &WorkerResult{RawNotes: []string{"raw"}}, nil
	})
	decider := sequence(decisionOf(delegateCall("1", "x")), decisionOf(completeCall("done")))
	c := newTestCoordinator(t, decider, worker, &recordingAggregator{}, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, []string{EmptySummaryText}, res.Notes)
	assert.Equal(t, []string{"raw"}, res.RawNotes)
}

func TestCoordinator_EmptyInputCompletion(t *testing.T) {
	agg := &recordingAggregator{report: "nothing found"}
	decider := sequence(&Decision{Message: types.NewAssistantMessage("I have nothing to do")})
	c := newTestCoordinator(t, decider, echoWorker(), agg, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationNoAction, res.Termination)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.Notes)
	assert.Equal(t, 1, agg.calls)
	assert.Empty(t, agg.notes)
	assert.Equal(t, "nothing found", res.Report)
}

func TestCoordinator_MalformedOutputIsNoAction(t *testing.T) {
	tests := []struct {
		name  string
		calls []types.ToolCall
	}{
		{"unknown tool", []types.ToolCall{toolCall("1", "web_browse", `{"url":"x"}`)}},
		{"missing topic", []types.ToolCall{toolCall("1", ConductResearchToolName, `{}`)}},
		{"empty reflection", []types.ToolCall{toolCall("1", ThinkToolName, `{"reflection":" "}`)}},
		{"broken json", []types.ToolCall{toolCall("1", ConductResearchToolName, `{"research_topic":`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called atomic.Bool
			worker := WorkerFunc(func(context.Context, string) (*WorkerResult, error) {
				called.Store(true)
				return &WorkerResult{}, nil
			})
			c := newTestCoordinator(t, sequence(decisionOf(tt.calls...)), worker, &recordingAggregator{}, DefaultConfig())

			res, err := c.Execute(context.Background(), "brief")
			require.NoError(t, err)
			assert.Equal(t, TerminationNoAction, res.Termination)
			assert.False(t, called.Load())
		})
	}
}

func TestCoordinator_IgnoredCallsDoNotBlockValidOnes(t *testing.T) {
	decider := sequence(
		decisionOf(toolCall("x", "unknown", `{}`), delegateCall("1", "a")),
		decisionOf(completeCall("done")),
	)
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, TerminationResearchComplete, res.Termination)
	assert.Equal(t, []string{"summary:a"}, res.Notes)
}

func TestCoordinator_Reflection(t *testing.T) {
	decider := sequence(
		decisionOf(thinkCall("r1", "plan A"), thinkCall("r2", "plan B")),
		decisionOf(completeCall("done")),
	)
	rec := newFakeRecorder()
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, DefaultConfig(), WithRecorder(rec))

	res, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"Reflection recorded: plan A", "Reflection recorded: plan B"}, res.Notes)
	assert.Equal(t, 1, rec.decisions["reflect"])
	assert.Equal(t, 1, rec.decisions["complete"])
}

func TestCoordinator_MixedActionPolicy(t *testing.T) {
	mixed := func() *scriptedDecider {
		return sequence(
			decisionOf(thinkCall("r1", "note"), delegateCall("d1", "topic")),
			decisionOf(completeCall("done")),
		)
	}

	t.Run("delegation wins", func(t *testing.T) {
		decider := mixed()
		c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, DefaultConfig())
		res, err := c.Execute(context.Background(), "brief")
		require.NoError(t, err)
		assert.Equal(t, []string{"summary:topic"}, res.Notes)
		// 第二次决策看到的 transcript 中反思调用没有结果
		second := decider.seen[1]
		assert.Len(t, second[1].ToolCalls, 2)
		assert.Equal(t, types.RoleTool, second[2].Role)
		assert.Equal(t, "d1", second[2].ToolCallID)
	})

	t.Run("honor both", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MixedActionPolicy = MixedHonorBoth
		c := newTestCoordinator(t, mixed(), echoWorker(), &recordingAggregator{}, cfg)
		res, err := c.Execute(context.Background(), "brief")
		require.NoError(t, err)
		assert.Equal(t, []string{"Reflection recorded: note", "summary:topic"}, res.Notes)
		assert.Equal(t, 2, res.Iterations)
	})
}

func TestCoordinator_DecisionFailureIsFatal(t *testing.T) {
	agg := &recordingAggregator{}
	decider := &scriptedDecider{script: func(int) (*Decision, error) { return nil, errors.New("engine unavailable") }}
	c := newTestCoordinator(t, decider, echoWorker(), agg, DefaultConfig())

	res, err := c.Execute(context.Background(), "brief")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrDecisionFailed))
	assert.Contains(t, err.Error(), "engine unavailable")
	assert.Equal(t, 0, agg.calls)
}

func TestCoordinator_NilDecisionIsFailure(t *testing.T) {
	decider := &scriptedDecider{script: func(int) (*Decision, error) { return nil, nil }}
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, DefaultConfig())

	_, err := c.Execute(context.Background(), "brief")
	assert.True(t, types.IsErrorCode(err, types.ErrDecisionFailed))
}

func TestCoordinator_AggregationFailureIsFatal(t *testing.T) {
	agg := &recordingAggregator{err: errors.New("writer down")}
	c := newTestCoordinator(t, sequence(decisionOf(completeCall("done"))), echoWorker(), agg, DefaultConfig())

	_, err := c.Execute(context.Background(), "brief")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAggregationFailed))
}

func TestCoordinator_ContextCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	worker := WorkerFunc(func(wctx context.Context, _ string) (*WorkerResult, error) {
		cancel()
		<-wctx.Done()
		return nil, wctx.Err()
	})
	agg := &recordingAggregator{}
	c := newTestCoordinator(t, alwaysDelegate(1), worker, agg, DefaultConfig())

	_, err := c.Execute(ctx, "brief")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, agg.calls)
}

func TestCoordinator_TranscriptAndLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 5
	cfg.MaxConcurrentWorkers = 2
	decider := sequence(decisionOf(completeCall("done")))
	agg := &recordingAggregator{}
	c := newTestCoordinator(t, decider, echoWorker(), agg, cfg, WithRunIDGenerator(func() string { return "run-1" }))

	res, err := c.Execute(context.Background(), "Compare solar and wind")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "Compare solar and wind", agg.brief)
	require.Len(t, decider.seen, 1)
	first := decider.seen[0]
	require.Len(t, first, 1)
	assert.Equal(t, types.RoleUser, first[0].Role)
	assert.Equal(t, "Compare solar and wind.", first[0].Content)
	assert.Equal(t, Limits{MaxIterations: 5, MaxConcurrency: 2}, decider.limits[0])
	assert.Len(t, res.Transcript, 2)
}

func TestCoordinator_RunIDFromContext(t *testing.T) {
	c := newTestCoordinator(t, sequence(decisionOf(completeCall("done"))), echoWorker(), &recordingAggregator{}, DefaultConfig())
	res, err := c.Execute(types.WithRunID(context.Background(), "ctx-run"), "brief")
	require.NoError(t, err)
	assert.Equal(t, "ctx-run", res.RunID)
}

func TestCoordinator_ExecuteReportOverrides(t *testing.T) {
	decider := alwaysDelegate(1)
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{report: "final"}, DefaultConfig())

	report, err := c.ExecuteReport(context.Background(), "brief", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "final", report)
	assert.Equal(t, 2, decider.calls)
	assert.Equal(t, Limits{MaxIterations: 2, MaxConcurrency: 1}, decider.limits[0])

	_, err = c.ExecuteReport(context.Background(), "brief", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2+DefaultConfig().MaxIterations, decider.calls)
}

func TestCoordinator_MetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegisterer("supervisor_test", reg, nil)
	decider := sequence(decisionOf(delegateCall("1", "a"), delegateCall("2", "b")), decisionOf(completeCall("done")))
	c := newTestCoordinator(t, decider, echoWorker(), &recordingAggregator{}, DefaultConfig(), WithRecorder(collector))

	_, err := c.Execute(context.Background(), "brief")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "supervisor_test_research_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "supervisor_test_research_worker_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(nil, echoWorker(), &recordingAggregator{}, DefaultConfig(), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 0
	_, err = NewCoordinator(sequence(), echoWorker(), &recordingAggregator{}, cfg, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.MixedActionPolicy = ""
	c, err := NewCoordinator(sequence(), echoWorker(), &recordingAggregator{}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, MixedDelegationWins, c.Config().MixedActionPolicy)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
		{"negative timeout", func(c *Config) { c.WorkerTimeout = -time.Second }, true},
		{"timeout disabled", func(c *Config) { c.WorkerTimeout = 0 }, false},
		{"bad policy", func(c *Config) { c.MixedActionPolicy = "first_wins" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig), fmt.Sprint(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMixedActionPolicy(t *testing.T) {
	p, err := ParseMixedActionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MixedDelegationWins, p)
	p, err = ParseMixedActionPolicy(" honor_both ")
	require.NoError(t, err)
	assert.Equal(t, MixedHonorBoth, p)
	_, err = ParseMixedActionPolicy("nope")
	assert.Error(t, err)
}

func TestBriefMessage(t *testing.T) {
	assert.Equal(t, "topic.", briefMessage("topic"))
	assert.Equal(t, "topic.", briefMessage(" topic. "))
	assert.Equal(t, "", briefMessage(""))
}
