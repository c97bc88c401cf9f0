package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chatter-dev/chatter/internal/adapter"
	"github.com/chatter-dev/chatter/internal/config"
	"github.com/chatter-dev/chatter/internal/llm"
	"github.com/chatter-dev/chatter/internal/logger"
	"github.com/chatter-dev/chatter/internal/relay"
	"github.com/chatter-dev/chatter/internal/store"
)

// cleanupInterval is how often retention cleanup runs in the background.
const cleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	st, err := store.New(openPersistence(cfg.Store), store.Limits{
		MaxConversations: cfg.Store.MaxConversations,
		MaxMessages:      cfg.Store.MaxMessages,
		Retention:        time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		logger.L.Error("failed to initialize conversation store", "error", err)
		return
	}

	relayHandler := relay.New(llm.NewClient(cfg.LLM), cfg.LLM)

	// The adapter calls the relay over loopback, same as the browser runtime
	// it replaces.
	chatEndpoint := fmt.Sprintf("http://127.0.0.1:%s/api/chat", cfg.Server.Port)
	ad := adapter.New(st, chatEndpoint)

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			st.CleanupOldConversations()
		}
	}()

	mux := http.NewServeMux()

	mux.Handle("/api/chat", relayHandler)

	mux.HandleFunc("POST /api/turn", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Text           string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		reply, err := ad.Send(r.Context(), req.ConversationID, req.Text)
		if errors.Is(err, context.Canceled) {
			// Client went away mid-turn; there is nobody to answer.
			return
		}
		writeJSON(w, reply)
	})

	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, st.ConversationsByPeriod())
	})

	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		id := st.AddConversation("New Conversation")
		writeJSON(w, map[string]string{"id": id})
	})

	mux.HandleFunc("POST /api/conversations/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		st.SetActiveConversation(r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		st.DeleteConversation(r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, mux); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}

// openPersistence opens the configured backend, falling back to in-memory
// storage when the durable one cannot be opened.
func openPersistence(cfg config.StoreConfig) store.Persistence {
	var (
		p   store.Persistence
		err error
	)
	switch cfg.Backend {
	case "bolt":
		p, err = store.NewBoltPersistence(cfg.Path)
	case "memory":
		return store.NewMemoryPersistence()
	default:
		p, err = store.NewSQLitePersistence(cfg.Path)
	}
	if err != nil {
		logger.L.Warn("durable store open failed; conversations will not survive restarts", "backend", cfg.Backend, "error", err)
		return store.NewMemoryPersistence()
	}
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("response write failed", "error", err)
	}
}
