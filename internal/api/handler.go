// Package api exposes the engine's HTTP surface: event ingestion, delivery
// record lookups, test deliveries and queue management.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AbdullahHassan176/hookrelay/internal/dispatcher"
	"github.com/AbdullahHassan176/hookrelay/internal/domain"
	"github.com/AbdullahHassan176/hookrelay/internal/queue"
	"github.com/AbdullahHassan176/hookrelay/internal/record"
)

const defaultListLimit = 50

type Handler struct {
	dispatcher *dispatcher.Dispatcher
	records    record.Store
	broker     queue.Broker
	logger     *slog.Logger
}

func NewHandler(d *dispatcher.Dispatcher, records record.Store, broker queue.Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: d,
		records:    records,
		broker:     broker,
		logger:     logger,
	}
}

type PublishEventRequest struct {
	ID         string          `json:"eventId"`
	Type       string          `json:"eventType"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Data       json.RawMessage `json:"data"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
}

type PublishEventResponse struct {
	EventID     string   `json:"eventId"`
	DeliveryIDs []string `json:"deliveryIds"`
}

func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	event := &domain.Event{
		ID:         req.ID,
		Type:       req.Type,
		EntityID:   req.EntityID,
		EntityType: req.EntityType,
		Data:       req.Data,
		OccurredAt: occurredAt,
	}

	records, err := h.dispatcher.Publish(r.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			h.respondError(w, http.StatusBadRequest, "eventId and eventType are required")
			return
		}
		h.logger.Error("failed to publish event", "error", err, "event_id", req.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	h.respondJSON(w, http.StatusAccepted, PublishEventResponse{
		EventID:     event.ID,
		DeliveryIDs: ids,
	})
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.records.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get delivery", "error", err, "delivery_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	status := domain.DeliveryStatus(r.URL.Query().Get("status"))
	switch status {
	case domain.DeliveryStatusPending, domain.DeliveryStatusRetrying,
		domain.DeliveryStatusDelivered, domain.DeliveryStatusFailed,
		domain.DeliveryStatusExpired:
	default:
		h.respondError(w, http.StatusBadRequest, "status must be one of pending, retrying, delivered, failed, expired")
		return
	}

	records, err := h.records.ListByStatus(r.Context(), status, defaultListLimit)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err, "status", status)
		h.respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handler) ListEndpointDeliveries(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "id")

	records, err := h.records.ListByEndpoint(r.Context(), endpointID, defaultListLimit)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err, "endpoint_id", endpointID)
		h.respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

// TestEndpoint performs a synchronous test delivery against one endpoint:
// the first attempt runs inline and the finalized record is returned, so
// the caller sees the receiver's response without polling. Retries, if
// any, continue asynchronously on the retry queue.
func (h *Handler) TestEndpoint(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "id")

	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	event := &domain.Event{
		ID:         req.ID,
		Type:       req.Type,
		EntityID:   req.EntityID,
		EntityType: req.EntityType,
		Data:       req.Data,
		OccurredAt: occurredAt,
	}

	rec, err := h.dispatcher.DeliverNow(r.Context(), endpointID, event)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	case errors.Is(err, domain.ErrEndpointInactive):
		h.respondError(w, http.StatusConflict, "endpoint is inactive")
		return
	case errors.Is(err, domain.ErrNotSubscribed):
		h.respondError(w, http.StatusConflict, "endpoint is not subscribed to this event type")
		return
	case errors.Is(err, domain.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, "eventId and eventType are required")
		return
	case err != nil:
		h.logger.Error("failed to run test delivery", "error", err, "endpoint_id", endpointID)
		h.respondError(w, http.StatusInternalServerError, "failed to run test delivery")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

func validQueue(name string) bool {
	switch name {
	case queue.QueueDelivery, queue.QueueRetry, queue.QueueCleanup:
		return true
	}
	return false
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	stats, err := h.broker.Stats(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to get queue stats", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	paused, err := h.broker.Paused(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to get queue state", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to get queue state")
		return
	}

	h.respondJSON(w, http.StatusOK, struct {
		queue.Stats
		Paused bool `json:"paused"`
	}{Stats: stats, Paused: paused})
}

func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.setQueuePaused(w, r, true)
}

func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.setQueuePaused(w, r, false)
}

func (h *Handler) setQueuePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	var err error
	if paused {
		err = h.broker.Pause(r.Context(), name)
	} else {
		err = h.broker.Resume(r.Context(), name)
	}
	if err != nil {
		h.logger.Error("failed to change queue state", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to change queue state")
		return
	}

	h.logger.Info("queue state changed", "queue", name, "paused", paused)
	h.respondJSON(w, http.StatusOK, map[string]any{"queue": name, "paused": paused})
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	count, err := h.broker.Clear(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to clear queue", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to clear queue")
		return
	}

	h.logger.Warn("queue cleared", "queue", name, "removed", count)
	h.respondJSON(w, http.StatusOK, map[string]any{"queue": name, "removed": count})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	info, err := h.broker.Job(r.Context(), name, chi.URLParam(r, "jobID"))
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, info)
}

func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	removed, err := h.broker.Remove(r.Context(), name, chi.URLParam(r, "jobID"))
	if err != nil {
		h.logger.Error("failed to remove job", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to remove job")
		return
	}
	if !removed {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PromoteJob forces a delayed or dead job to run now.
func (h *Handler) PromoteJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validQueue(name) {
		h.respondError(w, http.StatusNotFound, queue.ErrUnknownQueue.Error())
		return
	}

	jobID := chi.URLParam(r, "jobID")
	promoted, err := h.broker.PromoteJob(r.Context(), name, jobID)
	if err != nil {
		h.logger.Error("failed to promote job", "error", err, "queue", name)
		h.respondError(w, http.StatusInternalServerError, "failed to promote job")
		return
	}
	if !promoted {
		h.respondError(w, http.StatusConflict, "job is not delayed or dead")
		return
	}

	h.logger.Info("job promoted", "queue", name, "job_id", jobID)
	h.respondJSON(w, http.StatusOK, map[string]any{"queue": name, "jobId": jobID, "promoted": true})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
