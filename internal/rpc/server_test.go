package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dshills/flowforge/internal/domain"
	"github.com/dshills/flowforge/internal/eventbus"
	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/storage/memory"
	"github.com/dshills/flowforge/internal/trigger"
)

func newTestServer() *Server {
	return newTestServerWithKick(nil)
}

func newTestServerWithKick(kick func()) *Server {
	backend := memory.New()
	events := eventbus.New(backend.Events())
	log := logging.NewDefault("rpc-test")
	return New(backend.Flows(), backend.Runs(), backend.Queue(), backend.Triggers(), events, nil, nil, log, kick)
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}

func TestFlowSaveGetListDelete(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	flow := domain.Flow{
		Name:        "linear",
		EntryNodeID: "a",
		Nodes: []domain.Node{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop"},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "b"}},
	}

	result, err := s.dispatch(ctx, nil, "flow.save", mustParams(t, flowSaveParams{Flow: flow}))
	if err != nil {
		t.Fatalf("flow.save: %v", err)
	}
	saved := result.(*domain.Flow)
	if saved.ID == "" {
		t.Fatal("saved flow has empty ID")
	}

	got, err := s.dispatch(ctx, nil, "flow.get", mustParams(t, flowGetParams{ID: saved.ID}))
	if err != nil {
		t.Fatalf("flow.get: %v", err)
	}
	if got.(*domain.Flow).Name != "linear" {
		t.Fatalf("flow.get returned wrong flow: %+v", got)
	}

	list, err := s.dispatch(ctx, nil, "flow.list", nil)
	if err != nil {
		t.Fatalf("flow.list: %v", err)
	}
	if len(list.([]*domain.Flow)) != 1 {
		t.Fatalf("flow.list len = %d, want 1", len(list.([]*domain.Flow)))
	}

	if _, err := s.dispatch(ctx, nil, "flow.delete", mustParams(t, flowGetParams{ID: saved.ID})); err != nil {
		t.Fatalf("flow.delete: %v", err)
	}
	if _, err := s.dispatch(ctx, nil, "flow.get", mustParams(t, flowGetParams{ID: saved.ID})); err == nil {
		t.Fatal("flow.get after delete succeeded, want error")
	}
}

func TestFlowSaveRejectsInvalidDAG(t *testing.T) {
	s := newTestServer()
	flow := domain.Flow{Name: "broken", EntryNodeID: "missing"}
	if _, err := s.dispatch(context.Background(), nil, "flow.save", mustParams(t, flowSaveParams{Flow: flow})); err == nil {
		t.Fatal("flow.save accepted a flow with a missing entry node")
	}
}

func TestRunStartRequiresKnownFlow(t *testing.T) {
	s := newTestServer()
	_, err := s.dispatch(context.Background(), nil, "run.start", mustParams(t, runStartParams{FlowID: "nope"}))
	if err == nil {
		t.Fatal("run.start accepted an unknown flowId")
	}
}

func TestRunStartThenCancelQueuedRun(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	flow := domain.Flow{Name: "f", EntryNodeID: "a", Nodes: []domain.Node{{ID: "a", Kind: "noop"}}}
	saveResult, err := s.dispatch(ctx, nil, "flow.save", mustParams(t, flowSaveParams{Flow: flow}))
	if err != nil {
		t.Fatalf("flow.save: %v", err)
	}
	flowID := saveResult.(*domain.Flow).ID

	startResult, err := s.dispatch(ctx, nil, "run.start", mustParams(t, runStartParams{FlowID: flowID}))
	if err != nil {
		t.Fatalf("run.start: %v", err)
	}
	runID := startResult.(trigger.EnqueueResult).RunID

	got, err := s.dispatch(ctx, nil, "run.get", mustParams(t, runIDParams{RunID: runID}))
	if err != nil {
		t.Fatalf("run.get: %v", err)
	}
	if got.(*domain.Run).Status != domain.RunQueued {
		t.Fatalf("run status = %s, want queued", got.(*domain.Run).Status)
	}

	if _, err := s.dispatch(ctx, nil, "run.cancel", mustParams(t, runIDParams{RunID: runID})); err != nil {
		t.Fatalf("run.cancel: %v", err)
	}

	got, err = s.dispatch(ctx, nil, "run.get", mustParams(t, runIDParams{RunID: runID}))
	if err != nil {
		t.Fatalf("run.get after cancel: %v", err)
	}
	if got.(*domain.Run).Status != domain.RunCanceled {
		t.Fatalf("run status after cancel = %s, want canceled", got.(*domain.Run).Status)
	}

	queueList, err := s.dispatch(ctx, nil, "queue.list", nil)
	if err != nil {
		t.Fatalf("queue.list: %v", err)
	}
	if len(queueList.([]*domain.QueueItem)) != 0 {
		t.Fatalf("queue still has %d items after cancel", len(queueList.([]*domain.QueueItem)))
	}
}

func TestRunStartKicksScheduler(t *testing.T) {
	kicked := 0
	s := newTestServerWithKick(func() { kicked++ })
	ctx := context.Background()

	flow := domain.Flow{Name: "f", EntryNodeID: "a", Nodes: []domain.Node{{ID: "a", Kind: "noop"}}}
	saveResult, err := s.dispatch(ctx, nil, "flow.save", mustParams(t, flowSaveParams{Flow: flow}))
	if err != nil {
		t.Fatalf("flow.save: %v", err)
	}
	flowID := saveResult.(*domain.Flow).ID

	if _, err := s.dispatch(ctx, nil, "run.start", mustParams(t, runStartParams{FlowID: flowID})); err != nil {
		t.Fatalf("run.start: %v", err)
	}
	if kicked != 1 {
		t.Fatalf("scheduler kicked %d times after run.start, want 1", kicked)
	}

	if _, err := s.dispatch(ctx, nil, "queue.enqueue", mustParams(t, runStartParams{FlowID: flowID})); err != nil {
		t.Fatalf("queue.enqueue: %v", err)
	}
	if kicked != 2 {
		t.Fatalf("scheduler kicked %d times after queue.enqueue, want 2", kicked)
	}
}

func TestRunPauseRejectsNonRunningRun(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()
	flow := domain.Flow{Name: "f", EntryNodeID: "a", Nodes: []domain.Node{{ID: "a", Kind: "noop"}}}
	saveResult, _ := s.dispatch(ctx, nil, "flow.save", mustParams(t, flowSaveParams{Flow: flow}))
	flowID := saveResult.(*domain.Flow).ID
	startResult, _ := s.dispatch(ctx, nil, "run.start", mustParams(t, runStartParams{FlowID: flowID}))
	runID := startResult.(trigger.EnqueueResult).RunID

	if _, err := s.dispatch(ctx, nil, "run.pause", mustParams(t, runIDParams{RunID: runID})); err == nil {
		t.Fatal("run.pause accepted a queued (not running) run")
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer()
	if _, err := s.dispatch(context.Background(), nil, "bogus.method", nil); err == nil {
		t.Fatal("dispatch accepted an unknown method")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := newTestServer()
	c := newConn(s, nil)

	if _, err := s.dispatch(context.Background(), c, "subscribe", mustParams(t, subscribeParams{RunID: "run-1"})); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c.mu.Lock()
	subscribed := c.subRuns["run-1"]
	c.mu.Unlock()
	if !subscribed {
		t.Fatal("subscribe did not register run-1")
	}

	if _, err := s.dispatch(context.Background(), c, "unsubscribe", mustParams(t, subscribeParams{RunID: "run-1"})); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	c.mu.Lock()
	_, stillSubscribed := c.subRuns["run-1"]
	c.mu.Unlock()
	if stillSubscribed {
		t.Fatal("unsubscribe did not remove run-1")
	}
}
