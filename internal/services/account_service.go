package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// AccountService handles agent account CRUD and the credit endpoints that
// delegate to the ledger. Mobile number is the natural key the dashboard
// uses for all lookups.
type AccountService struct {
	db        *sql.DB
	ledger    *LedgerService
	events    *EventService
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, ledger *LedgerService, events *EventService) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    ledger,
		events:    events,
		validator: NewValidationHelper(),
	}
}

const agentUserColumns = `id, mobile, name, email, credit, version, created_at, updated_at`

// CreateAgentUser registers a new agent account
// @Summary Create agent account
// @Description Register a new agent account; a non-zero initial credit writes the zero-th ledger entry
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.AgentUserCreate true "Account data"
// @Success 201 {object} models.AgentUser
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} apperrors.AppError
// @Router /accounts [post]
func (s *AccountService) CreateAgentUser(w http.ResponseWriter, r *http.Request) {
	var req models.AgentUserCreate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Mobile = normalizeMobile(req.Mobile)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user := &models.AgentUser{
		ID:      uuid.NewString(),
		Mobile:  req.Mobile,
		Name:    req.Name,
		Email:   req.Email,
		Credit:  req.Credit,
		Version: 1,
	}

	actorID, actorUsername := actorFromContext(r.Context())

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO agent_users (id, mobile, name, email, credit, version)
		VALUES ($1, $2, $3, $4, $5, 1)
		RETURNING created_at, updated_at`,
		user.ID, user.Mobile, user.Name, user.Email, user.Credit).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "email") {
				SendAppError(w, apperrors.ErrDuplicateEmail)
			} else {
				SendAppError(w, apperrors.ErrDuplicateMobile)
			}
			return
		}
		log.Printf("[ACCOUNT] Failed to create account for %s: %v", req.Mobile, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	// Non-zero initial credit gets a zero-th ledger entry so the balance
	// stays reconstructible from the log
	if !req.Credit.IsZero() {
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO ledger_entries
			(id, account_id, amount, previous_balance, new_balance, event_type, description, created_by)
			VALUES ($1, $2, $3, 0, $3, $4, 'initial balance', NULLIF($5, '')::uuid)`,
			uuid.NewString(), user.ID, req.Credit, models.EventAgentCredit, actorID)
		if err != nil {
			log.Printf("[ACCOUNT] Failed to write initial ledger entry for %s: %v", req.Mobile, err)
			SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Failed to commit account creation for %s: %v", req.Mobile, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	s.events.RecordAsync(&models.AgentEvent{
		EventType: models.EventAgentCreated,
		TargetID:  user.ID,
		EventData: models.Metadata{
			"mobile":         user.Mobile,
			"name":           user.Name,
			"initial_credit": user.Credit.String(),
		},
		CreatedBy:         actorID,
		CreatedByUsername: actorUsername,
	})

	log.Printf("[ACCOUNT] Created account %s for mobile %s", user.ID, user.Mobile)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GetAgentUser fetches one account by mobile number
// @Summary Get agent account
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Success 200 {object} models.AgentUser
// @Failure 404 {object} apperrors.AppError
// @Router /accounts/{mobile} [get]
func (s *AccountService) GetAgentUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// GetAgentUserByID fetches one account by its opaque id
// @Summary Get agent account by ID
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 200 {object} models.AgentUser
// @Failure 404 {object} apperrors.AppError
// @Router /accounts/id/{id} [get]
func (s *AccountService) GetAgentUserByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var user models.AgentUser
	err := s.db.QueryRowContext(r.Context(), `
		SELECT `+agentUserColumns+` FROM agent_users
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&user.ID, &user.Mobile, &user.Name, &user.Email, &user.Credit,
			&user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendAppError(w, apperrors.ErrAccountNotFound)
		} else {
			log.Printf("[ACCOUNT] Failed to fetch account %s: %v", id, err)
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// ListAgentUsers lists accounts with optional case-insensitive search
// @Summary List agent accounts
// @Description Paginated account list; search matches mobile, name and email
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param search query string false "Partial match across mobile/name/email"
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.AgentUsersList
// @Failure 500 {object} services.ErrorResponse
// @Router /accounts [get]
func (s *AccountService) ListAgentUsers(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	skip, limit := parsePagination(r)

	var (
		rows *sql.Rows
		err  error
	)
	if search != "" {
		pattern := "%" + escapeLikePattern(search) + "%"
		rows, err = s.db.QueryContext(r.Context(), `
			SELECT `+agentUserColumns+` FROM agent_users
			WHERE deleted_at IS NULL
			  AND (mobile ILIKE $1 OR name ILIKE $1 OR email ILIKE $1)
			ORDER BY created_at DESC
			OFFSET $2 LIMIT $3`, pattern, skip, limit)
	} else {
		rows, err = s.db.QueryContext(r.Context(), `
			SELECT `+agentUserColumns+` FROM agent_users
			WHERE deleted_at IS NULL
			ORDER BY created_at DESC
			OFFSET $1 LIMIT $2`, skip, limit)
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.AgentUser{}
	for rows.Next() {
		var u models.AgentUser
		if err := rows.Scan(&u.ID, &u.Mobile, &u.Name, &u.Email, &u.Credit,
			&u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
			log.Printf("[ACCOUNT] Failed to scan account: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	var total int
	if search != "" {
		pattern := "%" + escapeLikePattern(search) + "%"
		err = s.db.QueryRowContext(r.Context(), `
			SELECT COUNT(*) FROM agent_users
			WHERE deleted_at IS NULL
			  AND (mobile ILIKE $1 OR name ILIKE $1 OR email ILIKE $1)`, pattern).Scan(&total)
	} else {
		err = s.db.QueryRowContext(r.Context(), `
			SELECT COUNT(*) FROM agent_users WHERE deleted_at IS NULL`).Scan(&total)
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to count accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.AgentUsersList{Users: users, Total: total})
}

// UpdateAgentUser applies a partial update; absent fields stay untouched
// @Summary Update agent account
// @Description Partial update of name and email; mobile is immutable
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Param request body models.AgentUserUpdate true "Fields to change"
// @Success 200 {object} models.AgentUser
// @Failure 404 {object} apperrors.AppError
// @Failure 409 {object} apperrors.AppError
// @Router /accounts/{mobile} [put]
func (s *AccountService) UpdateAgentUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	var req models.AgentUserUpdate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}

	err = s.db.QueryRowContext(r.Context(), `
		UPDATE agent_users
		SET name = $1, email = $2, updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING updated_at`,
		user.Name, user.Email, user.ID).Scan(&user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			SendAppError(w, apperrors.ErrDuplicateEmail)
			return
		}
		log.Printf("[ACCOUNT] Failed to update account %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}

	actorID, actorUsername := actorFromContext(r.Context())
	s.events.RecordAsync(&models.AgentEvent{
		EventType:         models.EventAgentUpdated,
		TargetID:          user.ID,
		EventData:         models.Metadata{"name": user.Name, "email": user.Email},
		CreatedBy:         actorID,
		CreatedByUsername: actorUsername,
	})

	log.Printf("[ACCOUNT] Updated account %s", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// DeleteAgentUser tombstones an account; ledger history is retained
// @Summary Delete agent account
// @Description Soft-delete; the audit trail and ledger entries survive
// @Tags accounts
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Success 204 "Deleted"
// @Failure 404 {object} apperrors.AppError
// @Router /accounts/{mobile} [delete]
func (s *AccountService) DeleteAgentUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	_, err = s.db.ExecContext(r.Context(), `
		UPDATE agent_users SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, user.ID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to delete account %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	actorID, actorUsername := actorFromContext(r.Context())
	s.events.RecordAsync(&models.AgentEvent{
		EventType:         models.EventAgentDeleted,
		TargetID:          user.ID,
		EventData:         models.Metadata{"mobile": user.Mobile, "final_balance": user.Credit.String()},
		CreatedBy:         actorID,
		CreatedByUsername: actorUsername,
	})

	log.Printf("[ACCOUNT] Deleted account %s (mobile %s)", user.ID, user.Mobile)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateCredit applies a manual balance adjustment through the ledger
// @Summary Adjust account credit
// @Description Apply a signed credit adjustment; negative amounts debit. Supply an Idempotency-Key header for safe retries.
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Param request body models.CreditEventCreate true "Adjustment"
// @Success 200 {object} object{entry=models.LedgerEntry,new_balance=string}
// @Failure 400 {object} apperrors.AppError
// @Failure 404 {object} apperrors.AppError
// @Failure 409 {object} apperrors.AppError
// @Router /accounts/{mobile}/credit [post]
func (s *AccountService) UpdateCredit(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	var req models.CreditEventCreate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.EventType == "" {
		req.EventType = models.EventAgentCredit
	}

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	actorID, actorUsername := actorFromContext(r.Context())
	entry, err := s.ledger.ApplyAdjustment(r.Context(), &AdjustmentRequest{
		AccountID:      user.ID,
		Amount:         req.Amount,
		EventType:      req.EventType,
		Description:    req.Description,
		Actor:          actorID,
		ActorUsername:  actorUsername,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		SendAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entry":       entry,
		"new_balance": entry.NewBalance,
	})
}

// CreditHistory returns the account's ledger entries, most recent first
// @Summary Credit history
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.CreditEventsList
// @Failure 404 {object} apperrors.AppError
// @Router /accounts/{mobile}/credit/history [get]
func (s *AccountService) CreditHistory(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))
	skip, limit := parsePagination(r)

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	entries, total, err := s.ledger.GetHistory(r.Context(), user.ID, skip, limit)
	if err != nil {
		SendAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.CreditEventsList{Events: entries, Total: total})
}

// RefundRequest identifies a previous application entry to reverse
type RefundRequest struct {
	EntryID     string `json:"entry_id" validate:"required,uuid4"`
	Description string `json:"description" validate:"max=500"`
}

// RefundEntry reverses a previous consumable or purchasable application
// @Summary Refund an application
// @Description Credits or debits back the amount of a prior application entry; refunding the same entry twice is a no-op.
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Param request body services.RefundRequest true "Entry to reverse"
// @Success 200 {object} object{entry=models.LedgerEntry,new_balance=string}
// @Failure 400 {object} apperrors.AppError
// @Failure 404 {object} apperrors.AppError
// @Router /accounts/{mobile}/credit/refund [post]
func (s *AccountService) RefundEntry(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	var req RefundRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.findByMobile(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	source, err := s.ledger.GetEntry(r.Context(), user.ID, req.EntryID)
	if err != nil {
		SendAppError(w, err)
		return
	}
	if source.EventType != models.EventConsumableApplication && source.EventType != models.EventPurchasableApplication {
		SendAppError(w, apperrors.NewAppError(apperrors.ValidationFailed, "only application entries can be refunded"))
		return
	}

	description := req.Description
	if description == "" {
		description = "Refund for entry " + source.ID
	}

	actorID, actorUsername := actorFromContext(r.Context())
	// The idempotency key pins one refund per source entry
	entry, err := s.ledger.ApplyAdjustment(r.Context(), &AdjustmentRequest{
		AccountID:      user.ID,
		Amount:         source.Amount.Neg(),
		EventType:      models.EventRefund,
		Description:    description,
		Actor:          actorID,
		ActorUsername:  actorUsername,
		IdempotencyKey: "refund:" + source.ID,
		Extra:          models.Metadata{"refund_of": source.ID},
	})
	if err != nil {
		SendAppError(w, err)
		return
	}

	log.Printf("[ACCOUNT] Refunded entry %s on account %s", source.ID, user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entry":       entry,
		"new_balance": entry.NewBalance,
	})
}

func (s *AccountService) findByMobile(ctx context.Context, mobile string) (*models.AgentUser, error) {
	var user models.AgentUser
	err := s.db.QueryRowContext(ctx, `
		SELECT `+agentUserColumns+` FROM agent_users
		WHERE mobile = $1 AND deleted_at IS NULL`, mobile).
		Scan(&user.ID, &user.Mobile, &user.Name, &user.Email, &user.Credit,
			&user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to fetch account").WithDetails(err.Error())
	}
	return &user, nil
}

// normalizeMobile strips formatting characters so lookups and uniqueness
// compare on the bare +<countrycode><digits> form
func normalizeMobile(mobile string) string {
	var b strings.Builder
	for i, c := range mobile {
		if c == '+' && i == 0 {
			b.WriteRune(c)
			continue
		}
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// escapeLikePattern quotes LIKE wildcards so a search containing % or _
// matches those characters literally
func escapeLikePattern(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// actorFromContext pulls the operator identity the auth middleware stored
func actorFromContext(ctx context.Context) (string, string) {
	userID, _ := ctx.Value("userID").(string)
	username, _ := ctx.Value("username").(string)
	return userID, username
}

// decodeJSONBody applies the shared body hardening: 1 MB cap, unknown
// fields rejected, single JSON object only. Returns false after writing
// the error response.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
