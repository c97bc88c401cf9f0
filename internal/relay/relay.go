// Package relay implements the /api/chat endpoint: it forwards the posted
// message history to the model provider and streams the reply back as
// newline-delimited content frames.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatter-dev/chatter/internal/config"
	"github.com/chatter-dev/chatter/internal/llm"
	"github.com/chatter-dev/chatter/internal/logger"
	"github.com/chatter-dev/chatter/internal/stream"
)

// MaxDuration bounds the total handling time of one relay request.
const MaxDuration = 30 * time.Second

// Part is one typed segment of a message's content.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is an ordered sequence of parts. A plain JSON string is accepted
// too and treated as a single text part.
type Content []Part

func (c *Content) UnmarshalJSON(data []byte) error {
	var parts []Part
	if err := json.Unmarshal(data, &parts); err == nil {
		*c = parts
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Content{{Type: "text", Text: s}}
	return nil
}

// InboundMessage is one turn of the posted history.
type InboundMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

func (m InboundMessage) text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

type request struct {
	Messages []InboundMessage `json:"messages"`
}

// Handler is the stateless relay. Each request carries the full history; the
// fixed system instruction from config is prepended before forwarding.
type Handler struct {
	client  llm.Client
	cfg     config.LLMConfig
	timeout time.Duration
}

func New(client llm.Client, cfg config.LLMConfig) *Handler {
	return &Handler{client: client, cfg: cfg, timeout: MaxDuration}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.L.Warn("relay: bad request body", "error", err)
		writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: h.cfg.SystemPrompt,
	})
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.text(),
		})
	}

	upstream, err := h.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    h.cfg.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		// Includes a missing API key; the cause is logged, never exposed.
		logger.L.Error("relay: provider stream failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer func() {
		if cerr := upstream.Close(); cerr != nil {
			logger.L.Warn("relay: upstream close error", "error", cerr)
		}
	}()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flusher, _ := w.(http.Flusher)

	wrote := false
	for {
		resp, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if !wrote {
				logger.L.Error("relay: upstream recv failed", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
			// Mid-stream failure: the status line is gone already, so the
			// best we can do is stop and let the client's decoder finish
			// with what it has.
			logger.L.Warn("relay: upstream ended mid-stream", "error", err)
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := stream.WriteFrame(w, delta); err != nil {
			logger.L.Warn("relay: client write failed", "error", err)
			return
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.L.Warn("relay: error response write failed", "error", err)
	}
}
