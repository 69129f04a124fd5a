// Package httpapi serves the relay's JSON endpoints: publishing over plain
// HTTP for clients without a WebSocket, plus read-only views of the
// relay's state.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/schema"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

// Relay is the surface of the relay core the HTTP handlers need.
type Relay interface {
	Publish(ctx context.Context, eventType, auctionID string, data map[string]any) (wire.Envelope, int, error)
	Counts() (connections, subscriptions int)
	Schemas() []schema.Descriptor
	Schema(eventType string) (schema.Descriptor, error)
	Recent() []wire.Envelope
}

// Handler routes the relay's JSON endpoints.
type Handler struct {
	relay          Relay
	allowedOrigins []string
	logger         logging.ServiceLogger
	mux            *http.ServeMux
}

// NewHandler builds the JSON API over the relay core. allowedOrigins
// configures CORS; empty disables the headers entirely.
func NewHandler(relay Relay, allowedOrigins []string, logger logging.ServiceLogger) *Handler {
	h := &Handler{
		relay:          relay,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		mux:            http.NewServeMux(),
	}
	h.mux.HandleFunc("/publish-event", h.handlePublish)
	h.mux.HandleFunc("/status", h.handleStatus)
	h.mux.HandleFunc("/schemas", h.handleSchemas)
	h.mux.HandleFunc("/events/recent", h.handleRecent)
	h.mux.HandleFunc("/health", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.applyCORS(w, r) {
		return
	}
	h.mux.ServeHTTP(w, r)
}

// applyCORS sets the response CORS headers and reports whether the request
// was a preflight that is already answered.
func (h *Handler) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	if len(h.allowedOrigins) > 0 {
		if allowed := h.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// appropriate Access-Control-Allow-Origin value.
func (h *Handler) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// PublishRequest is the body of POST /publish-event. The HTTP surface
// carries the payload under "data"; only the WebSocket publish frame
// uses "eventData".
type PublishRequest struct {
	EventType string         `json:"eventType"`
	AuctionID string         `json:"auctionId"`
	Data      map[string]any `json:"data"`
}

// PublishResponse reports the outcome of an HTTP publish.
type PublishResponse struct {
	Success         bool   `json:"success"`
	SubscriberCount int    `json:"subscriberCount,omitempty"`
	SchemaID        string `json:"schemaId,omitempty"`
	SchemaName      string `json:"schemaName,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PublishRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, PublishResponse{Success: false, Error: "invalid JSON body"})
		return
	}

	env, delivered, err := h.relay.Publish(r.Context(), req.EventType, req.AuctionID, req.Data)
	if err != nil {
		status := http.StatusInternalServerError
		if isValidationError(err) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("HTTP publish failed", err, logging.LogFields{"event_type": req.EventType})
		}
		h.writeJSON(w, status, PublishResponse{Success: false, Error: err.Error()})
		return
	}

	descriptor, lookupErr := h.relay.Schema(env.EventType)
	if lookupErr != nil {
		descriptor = schema.Descriptor{Name: env.EventType}
	}
	h.writeJSON(w, http.StatusOK, PublishResponse{
		Success:         true,
		SubscriberCount: delivered,
		SchemaID:        descriptor.ID,
		SchemaName:      descriptor.Name,
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	ActiveSubscriptions int `json:"activeSubscriptions"`
	ConnectedClients    int `json:"connectedClients"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	connections, subscriptions := h.relay.Counts()
	h.writeJSON(w, http.StatusOK, StatusResponse{
		ActiveSubscriptions: subscriptions,
		ConnectedClients:    connections,
	})
}

func (h *Handler) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"schemas": h.relay.Schemas()})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	events := h.relay.Recent()
	if events == nil {
		events = []wire.Envelope{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "bidrelay",
		"timestamp": wire.Stamp(time.Now()),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, body); err != nil {
		h.logger.Error("Failed to encode response", err, nil)
	}
}

// isValidationError reports whether err was caused by the request payload
// rather than the relay.
func isValidationError(err error) bool {
	var unknown *schema.UnknownEventTypeError
	var mismatch *schema.MismatchError
	switch {
	case errors.Is(err, errspkg.ErrAuctionIDRequired),
		errors.Is(err, errspkg.ErrEventDataRequired):
		return true
	case errors.As(err, &unknown), errors.As(err, &mismatch):
		return true
	}
	return false
}
