package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// LedgerService is the sole writer of balance changes. Every adjustment
// runs in one database transaction holding a row lock on the account, so
// adjustments on the same account serialize while different accounts never
// contend.
type LedgerService struct {
	db     *sql.DB
	redis  *redis.Client
	events *EventService
}

const (
	maxAdjustRetries  = 3
	maxDescriptionLen = 500
	idempotencyTTL    = 24 * time.Hour
)

func NewLedgerService(db *sql.DB, redisClient *redis.Client, events *EventService) *LedgerService {
	return &LedgerService{
		db:     db,
		redis:  redisClient,
		events: events,
	}
}

// AdjustmentRequest describes a single balance change. Actor is the
// operator's admin user id; empty means system-initiated. Extra is merged
// into the mirrored audit event's payload.
type AdjustmentRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	EventType      string
	Description    string
	Actor          string
	ActorUsername  string
	IdempotencyKey string
	Extra          models.Metadata
}

// debitPolicy lists event types that must not drive the balance negative.
// Manual adjustments (agent_credit) are exempt: the dashboard deliberately
// allows operators to push accounts below zero.
var debitPolicy = map[string]bool{
	models.EventConsumableApplication: true,
	models.EventRefund:                true,
}

// ApplyAdjustment reads the current balance, appends a ledger entry and
// updates the cached balance atomically. Version mismatches are retried a
// bounded number of times before surfacing a conflict.
func (s *LedgerService) ApplyAdjustment(ctx context.Context, req *AdjustmentRequest) (*models.LedgerEntry, error) {
	if req.Amount.IsZero() {
		return nil, apperrors.ErrInvalidAmount
	}
	if len(req.Description) > maxDescriptionLen {
		return nil, apperrors.NewAppError(apperrors.ValidationFailed, "description exceeds 500 characters")
	}

	if req.IdempotencyKey != "" {
		if entry, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if entry != nil {
			log.Printf("[LEDGER] Replayed idempotency key %s, returning entry %s", req.IdempotencyKey, entry.ID)
			return entry, nil
		}
	}

	var entry *models.LedgerEntry
	var replayed bool
	var err error
	for attempt := 1; attempt <= maxAdjustRetries; attempt++ {
		entry, replayed, err = s.applyOnce(ctx, req)
		if err == nil {
			break
		}
		if appErr, ok := err.(*apperrors.AppError); !ok || appErr.Code != apperrors.ConcurrencyConflict {
			return nil, err
		}
		log.Printf("[LEDGER] Concurrent write on account %s, attempt %d/%d", req.AccountID, attempt, maxAdjustRetries)
	}
	if err != nil {
		return nil, err
	}
	if replayed {
		// Another connection won the idempotency race and already mirrored
		// the audit event for this entry
		log.Printf("[LEDGER] Idempotency key %s raced in concurrently, returning entry %s", req.IdempotencyKey, entry.ID)
		return entry, nil
	}

	s.cacheIdempotencyKey(req.IdempotencyKey, entry.ID)
	s.events.RecordEntryAsync(entry, req.ActorUsername, req.Extra)

	log.Printf("[LEDGER] Applied %s %s to account %s, balance %s -> %s",
		entry.EventType, entry.Amount, entry.AccountID, entry.PreviousBalance, entry.NewBalance)
	return entry, nil
}

// applyOnce runs a single attempt inside its own transaction. The replayed
// return is true when the idempotency insert lost a race and the entry from
// the winning writer is returned instead.
func (s *LedgerService) applyOnce(ctx context.Context, req *AdjustmentRequest) (*models.LedgerEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	var version int
	err = tx.QueryRowContext(ctx, `
		SELECT credit, version FROM agent_users
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, req.AccountID).Scan(&balance, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, apperrors.ErrAccountNotFound
		}
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to lock account").WithDetails(err.Error())
	}

	newBalance := balance.Add(req.Amount)
	if newBalance.IsNegative() && debitPolicy[req.EventType] {
		return nil, false, apperrors.ErrInsufficientBalance
	}

	entry := &models.LedgerEntry{
		ID:              uuid.NewString(),
		AccountID:       req.AccountID,
		Amount:          req.Amount,
		PreviousBalance: balance,
		NewBalance:      newBalance,
		EventType:       req.EventType,
		Description:     req.Description,
		CreatedBy:       req.Actor,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       time.Now(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, account_id, amount, previous_balance, new_balance, event_type, description, created_by, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, '')::uuid, NULLIF($9, ''), $10)`,
		entry.ID, entry.AccountID, entry.Amount, entry.PreviousBalance, entry.NewBalance,
		entry.EventType, entry.Description, entry.CreatedBy, entry.IdempotencyKey, entry.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Idempotency key raced in on another connection
			if existing, lookupErr := s.findByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to append ledger entry").WithDetails(err.Error())
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_users
		SET credit = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		entry.NewBalance, req.AccountID, version)
	if err != nil {
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to update balance").WithDetails(err.Error())
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to update balance").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return nil, false, apperrors.ErrConcurrencyConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperrors.NewAppError(apperrors.InternalError, "failed to commit adjustment").WithDetails(err.Error())
	}
	return entry, false, nil
}

// GetHistory returns ledger entries for one account, most recent first
func (s *LedgerService) GetHistory(ctx context.Context, accountID string, skip, limit int) ([]models.LedgerEntry, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, previous_balance, new_balance, event_type,
		       COALESCE(description, ''), COALESCE(created_by::text, ''), created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`, accountID, skip, limit)
	if err != nil {
		return nil, 0, apperrors.NewAppError(apperrors.InternalError, "failed to fetch history").WithDetails(err.Error())
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.PreviousBalance, &e.NewBalance,
			&e.EventType, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, 0, apperrors.NewAppError(apperrors.InternalError, "failed to scan history").WithDetails(err.Error())
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewAppError(apperrors.InternalError, "failed to read history").WithDetails(err.Error())
	}

	var total int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&total)
	if err != nil {
		return nil, 0, apperrors.NewAppError(apperrors.InternalError, "failed to count history").WithDetails(err.Error())
	}

	return entries, total, nil
}

// GetEntry fetches one ledger entry scoped to an account
func (s *LedgerService) GetEntry(ctx context.Context, accountID, entryID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, previous_balance, new_balance, event_type,
		       COALESCE(description, ''), COALESCE(created_by::text, ''), created_at
		FROM ledger_entries
		WHERE id = $1 AND account_id = $2`, entryID, accountID).
		Scan(&e.ID, &e.AccountID, &e.Amount, &e.PreviousBalance, &e.NewBalance,
			&e.EventType, &e.Description, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrEntryNotFound
		}
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to fetch entry").WithDetails(err.Error())
	}
	return &e, nil
}

func (s *LedgerService) findByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}

	// Fast path: recently applied keys are cached in Redis; the database
	// unique index stays authoritative either way
	lookup := `idempotency_key = $1`
	arg := key
	if s.redis != nil {
		if entryID, err := s.redis.Get(ctx, idempotencyCacheKey(key)).Result(); err == nil && entryID != "" {
			lookup = `id = $1`
			arg = entryID
		} else if err != nil && err != redis.Nil {
			log.Printf("[LEDGER] Idempotency cache read failed: %v", err)
		}
	}

	var e models.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, previous_balance, new_balance, event_type,
		       COALESCE(description, ''), COALESCE(created_by::text, ''), created_at
		FROM ledger_entries
		WHERE `+lookup, arg).
		Scan(&e.ID, &e.AccountID, &e.Amount, &e.PreviousBalance, &e.NewBalance,
			&e.EventType, &e.Description, &e.CreatedBy, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.InternalError, "idempotency lookup failed").WithDetails(err.Error())
	}
	return &e, nil
}

// cacheIdempotencyKey stores a short-lived marker so replays of recent keys
// show up in Redis before the database is consulted
func (s *LedgerService) cacheIdempotencyKey(key, entryID string) {
	if key == "" || s.redis == nil {
		return
	}
	if err := s.redis.Set(context.Background(), idempotencyCacheKey(key), entryID, idempotencyTTL).Err(); err != nil {
		log.Printf("[LEDGER] Failed to cache idempotency key: %v", err)
	}
}

func idempotencyCacheKey(key string) string {
	return fmt.Sprintf("ledger:idem:%s", key)
}
