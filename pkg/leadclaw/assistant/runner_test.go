package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"
)

// fakeAgent is a scriptable AgentClient. CreateRun returns the initial
// status; each GetRun pops the next status from the queue (defaulting to
// completed when the queue is empty).
type fakeAgent struct {
	initialStatus string
	statusQueue   []string
	toolCalls     []ToolCall

	reply    string
	replyErr error
	getErr   error

	runStarts int
	messages  []string
	submitted [][]ToolOutput
}

func (f *fakeAgent) CreateThread(context.Context) (string, error) { return "thread_1", nil }

func (f *fakeAgent) AddMessage(_ context.Context, _, _, content string) error {
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeAgent) CreateRun(context.Context, string) (*Run, error) {
	f.runStarts++
	status := f.initialStatus
	if status == "" {
		status = StatusQueued
	}
	return f.makeRun("run_"+strconv.Itoa(f.runStarts), status), nil
}

func (f *fakeAgent) GetRun(_ context.Context, _, runID string) (*Run, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	status := StatusCompleted
	if len(f.statusQueue) > 0 {
		status = f.statusQueue[0]
		f.statusQueue = f.statusQueue[1:]
	}
	return f.makeRun(runID, status), nil
}

func (f *fakeAgent) SubmitToolOutputs(_ context.Context, _, _ string, outputs []ToolOutput) error {
	f.submitted = append(f.submitted, outputs)
	return nil
}

func (f *fakeAgent) LatestAssistantMessage(context.Context, string) (string, error) {
	return f.reply, f.replyErr
}

func (f *fakeAgent) makeRun(id, status string) *Run {
	run := &Run{ID: id, Status: status}
	if status == StatusRequiresAction {
		run.RequiredAction = &RequiredAction{}
		run.RequiredAction.SubmitToolOutputs.ToolCalls = f.toolCalls
	}
	return run
}

func newTestRunner(agent AgentClient, tools *ToolRegistry) *Runner {
	logger := slog.Default()
	if tools == nil {
		tools = NewToolRegistry(logger)
	}
	return NewRunner(agent, tools, RunnerConfig{
		MaxRetries:   3,
		PollInterval: time.Millisecond,
	}, logger)
}

func TestSendCompletedRun(t *testing.T) {
	agent := &fakeAgent{
		statusQueue: []string{StatusInProgress, StatusCompleted},
		reply:       "Hello **there**【1†kb】",
	}
	runner := newTestRunner(agent, nil)

	reply, err := runner.Send(context.Background(), "u1", "thread_1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply != "Hello <b>there</b>" {
		t.Errorf("unexpected reply %q", reply)
	}
	if agent.runStarts != 1 {
		t.Errorf("expected 1 run start, got %d", agent.runStarts)
	}
	if len(agent.messages) != 1 || agent.messages[0] != "hi" {
		t.Errorf("user message not appended before run: %v", agent.messages)
	}
}

func TestSendRetryBound(t *testing.T) {
	// A run that always terminates failed: exactly MaxRetries+1 run starts,
	// then a best-effort fetch that degrades to the fallback string.
	agent := &fakeAgent{initialStatus: StatusFailed}
	runner := newTestRunner(agent, nil)

	reply, err := runner.Send(context.Background(), "u1", "thread_1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if agent.runStarts != 4 {
		t.Errorf("expected 4 run starts (1 + 3 retries), got %d", agent.runStarts)
	}
	if reply != FallbackReply {
		t.Errorf("expected fallback reply, got %q", reply)
	}
}

func TestSendRetrySucceedsMidway(t *testing.T) {
	agent := &fakeAgent{
		initialStatus: StatusQueued,
		statusQueue:   []string{StatusExpired, StatusCompleted},
		reply:         "recovered",
	}
	runner := newTestRunner(agent, nil)

	reply, err := runner.Send(context.Background(), "u1", "thread_1", "hi")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("unexpected reply %q", reply)
	}
	if agent.runStarts != 2 {
		t.Errorf("expected 2 run starts, got %d", agent.runStarts)
	}
}

func TestSendDispatchesToolCalls(t *testing.T) {
	agent := &fakeAgent{
		statusQueue: []string{StatusRequiresAction, StatusCompleted},
		toolCalls: []ToolCall{
			{ID: "call_1", Type: "function", Function: FunctionCall{
				Name:      "get_client_contact_info",
				Arguments: `{"name":"Ana","phone":"+551199"}`,
			}},
			{ID: "call_2", Type: "function", Function: FunctionCall{
				Name:      "some_future_tool",
				Arguments: `{}`,
			}},
		},
		reply: "done",
	}

	tools := NewToolRegistry(slog.Default())
	var gotArgs string
	tools.Register("get_client_contact_info", func(_ context.Context, userID string, args json.RawMessage) (string, error) {
		if userID != "u1" {
			t.Errorf("handler got user %q", userID)
		}
		gotArgs = string(args)
		return `{"status":"success"}`, nil
	})

	runner := newTestRunner(agent, tools)
	if _, err := runner.Send(context.Background(), "u1", "thread_1", "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotArgs != `{"name":"Ana","phone":"+551199"}` {
		t.Errorf("handler got args %q", gotArgs)
	}
	if len(agent.submitted) != 1 {
		t.Fatalf("expected 1 tool-output batch, got %d", len(agent.submitted))
	}
	// The unknown tool is omitted from the batch, not errored.
	batch := agent.submitted[0]
	if len(batch) != 1 || batch[0].ToolCallID != "call_1" {
		t.Errorf("unexpected batch %+v", batch)
	}
}

func TestSendToolErrorAbortsExchange(t *testing.T) {
	agent := &fakeAgent{
		statusQueue: []string{StatusRequiresAction},
		toolCalls: []ToolCall{
			{ID: "call_1", Type: "function", Function: FunctionCall{
				Name:      "get_client_contact_info",
				Arguments: `not json`,
			}},
		},
	}

	tools := NewToolRegistry(slog.Default())
	tools.Register("get_client_contact_info", func(_ context.Context, _ string, args json.RawMessage) (string, error) {
		var payload struct{ Name string }
		if err := json.Unmarshal(args, &payload); err != nil {
			return "", err
		}
		return "ok", nil
	})

	runner := newTestRunner(agent, tools)
	if _, err := runner.Send(context.Background(), "u1", "thread_1", "hi"); err == nil {
		t.Fatal("expected error for malformed tool arguments")
	}
}

func TestSendTransportErrorPropagates(t *testing.T) {
	agent := &fakeAgent{getErr: errors.New("connection refused")}
	runner := newTestRunner(agent, nil)

	_, err := runner.Send(context.Background(), "u1", "thread_1", "hi")
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if agent.runStarts != 1 {
		t.Errorf("transport errors must not retry, got %d run starts", agent.runStarts)
	}
}

func TestSendValidatesInput(t *testing.T) {
	runner := newTestRunner(&fakeAgent{}, nil)

	if _, err := runner.Send(context.Background(), "u1", "thread_1", ""); err == nil {
		t.Error("expected error for empty message")
	}
	if _, err := runner.Send(context.Background(), "u1", "", "hi"); err == nil {
		t.Error("expected error for empty thread ID")
	}
}

func TestSendCancellation(t *testing.T) {
	// A run stuck in_progress forever; cancellation must interrupt the poll.
	agent := &fakeAgent{initialStatus: StatusInProgress}
	agent.statusQueue = make([]string, 0)
	runner := NewRunner(agent, NewToolRegistry(slog.Default()), RunnerConfig{
		MaxRetries:   3,
		PollInterval: time.Hour,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := runner.Send(ctx, "u1", "thread_1", "hi")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}
}
