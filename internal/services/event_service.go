package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// EventService owns the append-only audit feed. Writes are best-effort:
// a failed append is logged and never fails the business operation that
// triggered it.
type EventService struct {
	db *sql.DB
}

func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// Record appends one event to the feed
func (s *EventService) Record(ctx context.Context, event *models.AgentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events
		(id, event_type, target_id, event_data, description, created_by, created_by_username, timestamp)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, '')::uuid, NULLIF($7, ''), $8)`,
		event.ID, event.EventType, event.TargetID, event.EventData,
		event.Description, event.CreatedBy, event.CreatedByUsername, event.Timestamp)
	return err
}

// RecordAsync appends without blocking the caller; failures are only logged
func (s *EventService) RecordAsync(event *models.AgentEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Record(ctx, event); err != nil {
			log.Printf("[EVENT] Failed to record %s event for target %s: %v", event.EventType, event.TargetID, err)
		}
	}()
}

// RecordEntryAsync mirrors a ledger entry into the feed. Balance snapshots
// are serialized as strings so the dashboard renders them verbatim.
func (s *EventService) RecordEntryAsync(entry *models.LedgerEntry, actorUsername string, extra models.Metadata) {
	eventData := models.Metadata{
		"amount":           entry.Amount.String(),
		"previous_balance": entry.PreviousBalance.String(),
		"new_balance":      entry.NewBalance.String(),
	}
	for k, v := range extra {
		eventData[k] = v
	}

	s.RecordAsync(&models.AgentEvent{
		EventType:         entry.EventType,
		TargetID:          entry.AccountID,
		EventData:         eventData,
		Description:       entry.Description,
		CreatedBy:         entry.CreatedBy,
		CreatedByUsername: actorUsername,
		Timestamp:         entry.CreatedAt,
	})
}

// ListEvents returns the audit feed, optionally filtered by event type
// and/or target
// @Summary List system events
// @Description Paginated audit feed of all system events, optionally filtered by type and target
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param event_type query string false "Filter by event type"
// @Param target_id query string false "Filter by target account ID"
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.EventsList
// @Failure 500 {object} services.ErrorResponse
// @Router /system/events [get]
func (s *EventService) ListEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	targetID := r.URL.Query().Get("target_id")
	skip, limit := parsePagination(r)

	where, args := eventFilter(eventType, targetID)
	baseQuery := `
		SELECT id, event_type, target_id, event_data,
		       COALESCE(description, ''), COALESCE(created_by::text, ''), COALESCE(created_by_username, ''), timestamp
		FROM agent_events`
	query := fmt.Sprintf(`%s%s
		ORDER BY timestamp DESC, id DESC
		OFFSET $%d LIMIT $%d`, baseQuery, where, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(r.Context(), query, append(args, skip, limit)...)
	if err != nil {
		log.Printf("[EVENT] Failed to list events: %v", err)
		SendErrorResponse(w, "Failed to fetch events", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	events := []models.AgentEvent{}
	for rows.Next() {
		var e models.AgentEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.TargetID, &e.EventData,
			&e.Description, &e.CreatedBy, &e.CreatedByUsername, &e.Timestamp); err != nil {
			log.Printf("[EVENT] Failed to scan event: %v", err)
			SendErrorResponse(w, "Failed to fetch events", http.StatusInternalServerError, nil)
			return
		}
		events = append(events, e)
	}

	var total int
	err = s.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM agent_events`+where, args...).Scan(&total)
	if err != nil {
		log.Printf("[EVENT] Failed to count events: %v", err)
		SendErrorResponse(w, "Failed to fetch events", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.EventsList{Events: events, Total: total})
}

// GetEvent fetches a single event by id
// @Summary Get event by ID
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param eventId path string true "Event ID"
// @Success 200 {object} models.AgentEvent
// @Failure 404 {object} services.ErrorResponse
// @Router /system/events/{eventId} [get]
func (s *EventService) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var e models.AgentEvent
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, event_type, target_id, event_data,
		       COALESCE(description, ''), COALESCE(created_by::text, ''), COALESCE(created_by_username, ''), timestamp
		FROM agent_events WHERE id = $1`, eventID).
		Scan(&e.ID, &e.EventType, &e.TargetID, &e.EventData,
			&e.Description, &e.CreatedBy, &e.CreatedByUsername, &e.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			SendAppError(w, apperrors.ErrEventNotFound)
		} else {
			log.Printf("[EVENT] Failed to fetch event %s: %v", eventID, err)
			SendErrorResponse(w, "Failed to fetch event", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}

// eventFilter builds the optional WHERE clause for the feed queries
func eventFilter(eventType, targetID string) (string, []any) {
	clauses := []string{}
	args := []any{}
	if eventType != "" {
		args = append(args, eventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if targetID != "" {
		args = append(args, targetID)
		clauses = append(clauses, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// parsePagination reads skip/limit query params with the dashboard's
// defaults (skip 0, limit 100 capped at 100)
func parsePagination(r *http.Request) (int, int) {
	skip := 0
	limit := 100

	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}
	return skip, limit
}
