// Package adapter orchestrates one chat turn: it records the user message,
// calls the relay endpoint with the full history, decodes the streamed reply
// and records the assistant message. Failures are absorbed into fixed
// user-facing replies; only cancellation propagates to the caller.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/chatter-dev/chatter/internal/logger"
	"github.com/chatter-dev/chatter/internal/store"
	"github.com/chatter-dev/chatter/internal/stream"
)

// FSM States
type FSMState stateless.State

var (
	StateIdle      FSMState = "Idle"
	StateSending   FSMState = "Sending"
	StateStreaming FSMState = "Streaming"
	StateCompleted FSMState = "Completed" // Terminal: assistant reply recorded
	StateErrored   FSMState = "Errored"   // Terminal: fallback reply recorded
	StateCancelled FSMState = "Cancelled" // Terminal: nothing recorded
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerSend          FSMTrigger = "Send"
	TriggerStreamStarted FSMTrigger = "StreamStarted"
	TriggerCompleted     FSMTrigger = "Completed"
	TriggerFailed        FSMTrigger = "Failed"
	TriggerCancelled     FSMTrigger = "Cancelled"
	TriggerReset         FSMTrigger = "Reset"
)

// Fixed user-facing replies.
const (
	BusyReply    = "Please wait for the current response to finish."
	TimeoutReply = "Request timed out. Please try again."
	ErrorReply   = "Sorry, I encountered an error while processing your request."
	EmptyReply   = "Sorry, I couldn't process that request."
)

// MaxDuration bounds one full turn, connect through stream consumption.
const MaxDuration = 30 * time.Second

// Reply is the outcome of a turn returned to the caller.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// Adapter runs at most one turn at a time. A Send while a turn is in flight
// is rejected with BusyReply; the in-flight turn is never preempted.
type Adapter struct {
	store    *store.Store
	endpoint string
	client   *http.Client
	timeout  time.Duration

	mu  sync.Mutex
	fsm *stateless.StateMachine
}

// New creates an adapter that posts turns to the relay at endpoint.
func New(st *store.Store, endpoint string) *Adapter {
	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(TriggerSend, StateSending)
	fsm.Configure(StateSending).
		Permit(TriggerStreamStarted, StateStreaming).
		Permit(TriggerFailed, StateErrored).
		Permit(TriggerCancelled, StateCancelled)
	fsm.Configure(StateStreaming).
		Permit(TriggerCompleted, StateCompleted).
		Permit(TriggerFailed, StateErrored).
		Permit(TriggerCancelled, StateCancelled)
	fsm.Configure(StateCompleted).
		Permit(TriggerReset, StateIdle)
	fsm.Configure(StateErrored).
		Permit(TriggerReset, StateIdle)
	fsm.Configure(StateCancelled).
		Permit(TriggerReset, StateIdle)

	return &Adapter{
		store:    st,
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  MaxDuration,
		fsm:      fsm,
	}
}

// State reports the current invocation state.
func (a *Adapter) State() FSMState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FSMState(a.fsm.MustState())
}

// Send runs one chat turn. conversationID may be empty, in which case the
// active conversation is used, or a fresh one created. The returned error is
// non-nil only for cancellation; every other failure comes back as a fixed
// reply text that has also been recorded in the conversation.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) (Reply, error) {
	if !a.begin() {
		return Reply{Text: BusyReply}, nil
	}
	defer a.fire(TriggerReset)

	convID := conversationID
	if convID == "" {
		convID = a.store.ActiveConversationID()
	}
	if _, ok := a.store.Get(convID); !ok {
		convID = a.store.AddConversation("New Conversation")
	}

	if _, err := a.store.AddMessage(convID, store.RoleUser, text); err != nil {
		// The conversation was just resolved; a miss here means it raced a
		// delete. Treat like any other turn failure.
		return a.finishWithFailure(ctx, convID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	conv, _ := a.store.Get(convID)
	body, err := json.Marshal(wireRequest(conv.Messages))
	if err != nil {
		return a.finishWithFailure(ctx, convID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return a.finishWithFailure(ctx, convID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.finishWithFailure(ctx, convID, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.L.Warn("adapter: response body close error", "error", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return a.finishWithFailure(ctx, convID, fmt.Errorf("relay returned status %d", resp.StatusCode))
	}

	a.fire(TriggerStreamStarted)

	reply, err := stream.Decode(ctx, resp.Body)
	if err != nil {
		return a.finishWithFailure(ctx, convID, err)
	}

	if reply == "" {
		reply = EmptyReply
	}
	if _, err := a.store.AddMessage(convID, store.RoleAssistant, reply); err != nil {
		logger.L.Warn("adapter: conversation vanished before reply recorded", "conversation", convID)
	}
	a.fire(TriggerCompleted)
	return Reply{ConversationID: convID, Text: reply}, nil
}

// begin claims the single in-flight slot, reporting false when busy.
func (a *Adapter) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fsm.MustState() != stateless.State(StateIdle) {
		return false
	}
	if err := a.fsm.Fire(TriggerSend); err != nil {
		logger.L.Warn("adapter: FSM fire error", "trigger", TriggerSend, "error", err)
		return false
	}
	return true
}

func (a *Adapter) fire(t FSMTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fsm.Fire(t); err != nil {
		logger.L.Warn("adapter: FSM fire error", "trigger", t, "error", err)
	}
}

// finishWithFailure maps a turn failure onto the taxonomy: cancellation
// propagates with nothing recorded, a timeout or any other failure is
// absorbed into a fixed reply recorded as the assistant turn.
func (a *Adapter) finishWithFailure(ctx context.Context, convID string, err error) (Reply, error) {
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.L.Info("adapter: turn cancelled", "conversation", convID)
		a.fire(TriggerCancelled)
		return Reply{ConversationID: convID}, context.Canceled
	}

	fallback := ErrorReply
	if errors.Is(err, context.DeadlineExceeded) {
		fallback = TimeoutReply
	}
	logger.L.Error("adapter: turn failed", "conversation", convID, "error", err)
	a.fire(TriggerFailed)
	if _, aerr := a.store.AddMessage(convID, store.RoleAssistant, fallback); aerr != nil {
		logger.L.Warn("adapter: conversation vanished before fallback recorded", "conversation", convID)
	}
	return Reply{ConversationID: convID, Text: fallback}, nil
}

type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireMessage struct {
	Role    string     `json:"role"`
	Content []wirePart `json:"content"`
}

// wireRequest shapes the history into the relay's request body.
func wireRequest(messages []store.Message) map[string][]wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{
			Role:    m.Role,
			Content: []wirePart{{Type: "text", Text: m.Content}},
		})
	}
	return map[string][]wireMessage{"messages": out}
}
