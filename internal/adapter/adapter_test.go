package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatter-dev/chatter/internal/store"
	"github.com/chatter-dev/chatter/internal/stream"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *store.Store) {
	t.Helper()
	st, err := store.New(store.NewMemoryPersistence(), store.DefaultLimits)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(st, srv.URL), st
}

// writeFrames runs on the test server goroutine, so it reports nothing; a
// failed write shows up as a failed decode in the assertion that follows.
func writeFrames(w http.ResponseWriter, tokens ...string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, tok := range tokens {
		_ = stream.WriteFrame(w, tok)
	}
}

func TestSend_EndToEnd(t *testing.T) {
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, "Hello!")
	})

	require.Zero(t, st.Len())

	reply, err := a.Send(context.Background(), "", "Hi")
	require.NoError(t, err)
	require.Equal(t, "Hello!", reply.Text)
	require.NotEmpty(t, reply.ConversationID)
	require.Equal(t, reply.ConversationID, st.ActiveConversationID())

	conv, ok := st.Get(reply.ConversationID)
	require.True(t, ok)
	require.Equal(t, "Hi", conv.Title)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, store.RoleUser, conv.Messages[0].Role)
	require.Equal(t, "Hi", conv.Messages[0].Content)
	require.Equal(t, store.RoleAssistant, conv.Messages[1].Role)
	require.Equal(t, "Hello!", conv.Messages[1].Content)
	require.True(t, conv.UpdatedAt.Equal(conv.Messages[1].Timestamp))

	require.Equal(t, StateIdle, a.State())
}

func TestSend_PostsFullHistory(t *testing.T) {
	var got string
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		writeFrames(w, "ok")
	})

	id := st.AddConversation("New Conversation")
	_, err := st.AddMessage(id, store.RoleUser, "earlier question")
	require.NoError(t, err)
	_, err = st.AddMessage(id, store.RoleAssistant, "earlier answer")
	require.NoError(t, err)

	_, err = a.Send(context.Background(), id, "followup")
	require.NoError(t, err)

	require.Contains(t, got, "earlier question")
	require.Contains(t, got, "earlier answer")
	require.Contains(t, got, "followup")
	require.Contains(t, got, `"type":"text"`)
}

func TestSend_ReusesActiveConversation(t *testing.T) {
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, "again")
	})

	first, err := a.Send(context.Background(), "", "Hi")
	require.NoError(t, err)
	second, err := a.Send(context.Background(), "", "more")
	require.NoError(t, err)

	require.Equal(t, first.ConversationID, second.ConversationID)
	require.Equal(t, 1, st.Len())
	conv, _ := st.Get(first.ConversationID)
	require.Len(t, conv.Messages, 4)
}

func TestSend_RelayError_RecordsGenericFallback(t *testing.T) {
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
	})

	reply, err := a.Send(context.Background(), "", "Hi")
	require.NoError(t, err, "failures are absorbed, not propagated")
	require.Equal(t, ErrorReply, reply.Text)

	conv, _ := st.Get(reply.ConversationID)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, ErrorReply, conv.Messages[1].Content)
	require.Equal(t, StateIdle, a.State())
}

func TestSend_Timeout_RecordsTimeoutFallback(t *testing.T) {
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	a.timeout = 100 * time.Millisecond

	reply, err := a.Send(context.Background(), "", "Hi")
	require.NoError(t, err)
	require.Equal(t, TimeoutReply, reply.Text)

	conv, _ := st.Get(reply.ConversationID)
	require.Equal(t, TimeoutReply, conv.Messages[1].Content)
	require.Equal(t, StateIdle, a.State())
}

func TestSend_EmptyStream_RecordsFallbackReply(t *testing.T) {
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	reply, err := a.Send(context.Background(), "", "Hi")
	require.NoError(t, err)
	require.Equal(t, EmptyReply, reply.Text)
	conv, _ := st.Get(reply.ConversationID)
	require.Equal(t, EmptyReply, conv.Messages[1].Content)
}

func TestSend_Cancelled_PropagatesAndWritesNothing(t *testing.T) {
	frameSent := make(chan struct{})
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// See TestSend_Timeout_RecordsTimeoutFallback: drain before blocking.
		_, _ = io.Copy(io.Discard, r.Body)
		writeFrames(w, "partial answer")
		w.(http.Flusher).Flush()
		close(frameSent)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg    sync.WaitGroup
		reply Reply
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reply, err = a.Send(ctx, "", "Hi")
	}()

	<-frameSent
	cancel()
	wg.Wait()

	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, reply.Text)

	// The decoded prefix is discarded whole; only the user turn remains.
	conv, _ := st.Get(reply.ConversationID)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, store.RoleUser, conv.Messages[0].Role)
	require.Equal(t, StateIdle, a.State())
}

func TestSend_SecondInvocationRejectedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a, st := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-release
		_ = stream.WriteFrame(w, "first answer")
	})

	var (
		wg    sync.WaitGroup
		reply Reply
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reply, err = a.Send(context.Background(), "", "first")
	}()

	<-started
	require.Eventually(t, func() bool {
		return a.State() == StateStreaming
	}, time.Second, 10*time.Millisecond)

	busyReply, busyErr := a.Send(context.Background(), "", "second")
	require.NoError(t, busyErr)
	require.Equal(t, BusyReply, busyReply.Text)
	require.Empty(t, busyReply.ConversationID)

	// The rejected turn left no trace.
	require.Equal(t, 1, st.Len())
	conv, _ := st.Get(st.ActiveConversationID())
	require.Len(t, conv.Messages, 1)

	close(release)
	wg.Wait()

	require.NoError(t, err)
	require.Equal(t, "first answer", reply.Text)
	conv, _ = st.Get(reply.ConversationID)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "first answer", conv.Messages[1].Content)
	require.Equal(t, StateIdle, a.State())
}
