package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"alarm-gateway/internal/data"
	"alarm-gateway/internal/metrics"
	"alarm-gateway/internal/processor"
	"alarm-gateway/internal/storage"
	"alarm-gateway/internal/websocket"

	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict
	"github.com/rs/zerolog"
)

const (
	maxBodySize = 1 << 20

	EventConnectionResponse = "connection_response"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // any origin may subscribe
}

// APIHandler carries every collaborator the HTTP surface needs. One is built
// at startup and shared by all requests.
type APIHandler struct {
	builder   *data.Builder
	processor *processor.Processor
	store     *storage.HistoryStore
	hub       *websocket.Hub
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAPIHandler(builder *data.Builder, proc *processor.Processor, store *storage.HistoryStore, hub *websocket.Hub, m *metrics.Metrics, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		builder:   builder,
		processor: proc,
		store:     store,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleProcess accepts a raw alarm, hands it to the broadcast loop and
// answers with an immediately built record.
func (h *APIHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn().Int64("limit", tooLarge.Limit).Msg("request body too large")
			writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error().Err(err).Msg("error reading request body")
		writeError(w, "Could not read request body", http.StatusBadRequest)
		return
	}

	raw, err := data.ParseRaw(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected payload")
		writeError(w, "No data provided", http.StatusBadRequest)
		return
	}

	h.processor.Submit(raw)

	processed, err := h.builder.Build(raw)
	if err != nil {
		h.logger.Error().Err(err).Msg("error processing request")
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"processed_data": processed,
	})
}

type filtersApplied struct {
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	DeviceID  *string `json:"device_id"`
	Severity  *int    `json:"severity"`
	Status    *string `json:"status"`
	Limit     int     `json:"limit"`
}

// HandleHistory serves filtered history, newest first.
func (h *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	filter, applied, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history := h.store.Query(filter)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "success",
		"count":           len(history),
		"history":         history,
		"filters_applied": applied,
	})
}

func parseFilter(r *http.Request) (storage.Filter, filtersApplied, error) {
	q := r.URL.Query()
	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}

	f := storage.Filter{
		StartTime: q.Get("start_time"),
		EndTime:   q.Get("end_time"),
		DeviceID:  q.Get("device_id"),
		Status:    q.Get("status"),
		Limit:     storage.DefaultLimit,
	}

	if v := q.Get("severity"); v != "" {
		sev, err := strconv.Atoi(v)
		if err != nil {
			return f, filtersApplied{}, errors.New("severity must be an integer")
		}
		f.Severity = &sev
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return f, filtersApplied{}, errors.New("limit must be a positive integer")
		}
		f.Limit = limit
	}

	return f, filtersApplied{
		StartTime: optional("start_time"),
		EndTime:   optional("end_time"),
		DeviceID:  optional("device_id"),
		Severity:  f.Severity,
		Status:    optional("status"),
		Limit:     f.Limit,
	}, nil
}

func (h *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.store.Latest()
	if !ok {
		writeError(w, "No history available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"latest": latest,
	})
}

func (h *APIHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"statistics": h.store.Statistics(),
	})
}

// HandleClearHistory empties the history store.
func (h *APIHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	if h.metrics != nil {
		h.metrics.HistorySize.Set(0)
	}
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("history cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"timestamp":         h.now().UTC().Format(data.TimestampLayout),
		"processor_running": h.processor.Running(),
	})
}

// HandleWebSocket upgrades connections and registers clients with the hub.
// A new subscriber first receives the latest record, if any, then a
// connection acknowledgement.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade error")
		return
	}

	client := websocket.NewClient(h.hub, conn)
	greet := func() []websocket.Message {
		var msgs []websocket.Message
		if latest, ok := h.store.Latest(); ok {
			msgs = append(msgs, websocket.Message{Event: processor.EventProcessedData, Data: latest})
		}
		return append(msgs, websocket.Message{Event: EventConnectionResponse, Data: map[string]string{"status": "connected"}})
	}
	if !h.hub.RegisterWithGreeting(client, greet) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
