package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// CatalogService manages the consumable and purchasable definitions and
// the apply operations that turn them into ledger adjustments.
type CatalogService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewCatalogService(db *sql.DB, ledger *LedgerService) *CatalogService {
	return &CatalogService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateConsumable defines a new consumable
// @Summary Create consumable
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ConsumableCreate true "Consumable definition"
// @Success 201 {object} models.Consumable
// @Failure 400 {object} services.ErrorResponse
// @Router /consumables [post]
func (s *CatalogService) CreateConsumable(w http.ResponseWriter, r *http.Request) {
	var req models.ConsumableCreate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Cost.IsNegative() {
		SendAppError(w, apperrors.NewAppError(apperrors.ValidationFailed, "cost must not be negative"))
		return
	}

	item := &models.Consumable{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Cost:     req.Cost,
		MetaData: req.MetaData,
	}
	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO consumables (id, name, cost, meta_data)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		item.ID, item.Name, item.Cost, item.MetaData).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		log.Printf("[CATALOG] Failed to create consumable %q: %v", req.Name, err)
		SendErrorResponse(w, "Failed to create consumable", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CATALOG] Created consumable %s (%q)", item.ID, item.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// ListConsumables lists consumable definitions
// @Summary List consumables
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.ConsumablesList
// @Router /consumables [get]
func (s *CatalogService) ListConsumables(w http.ResponseWriter, r *http.Request) {
	skip, limit := parsePagination(r)

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, name, cost, meta_data, created_at, updated_at
		FROM consumables
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		log.Printf("[CATALOG] Failed to list consumables: %v", err)
		SendErrorResponse(w, "Failed to fetch consumables", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []models.Consumable{}
	for rows.Next() {
		var c models.Consumable
		if err := rows.Scan(&c.ID, &c.Name, &c.Cost, &c.MetaData, &c.CreatedAt, &c.UpdatedAt); err != nil {
			log.Printf("[CATALOG] Failed to scan consumable: %v", err)
			SendErrorResponse(w, "Failed to fetch consumables", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, c)
	}

	var total int
	if err := s.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM consumables`).Scan(&total); err != nil {
		log.Printf("[CATALOG] Failed to count consumables: %v", err)
		SendErrorResponse(w, "Failed to fetch consumables", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.ConsumablesList{Consumables: items, Total: total})
}

// GetConsumable fetches one consumable definition
// @Summary Get consumable
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param id path string true "Consumable ID"
// @Success 200 {object} models.Consumable
// @Failure 404 {object} apperrors.AppError
// @Router /consumables/{id} [get]
func (s *CatalogService) GetConsumable(w http.ResponseWriter, r *http.Request) {
	item, err := s.findConsumable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// UpdateConsumable applies a partial update to a consumable
// @Summary Update consumable
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Consumable ID"
// @Param request body models.ConsumableUpdate true "Fields to change"
// @Success 200 {object} models.Consumable
// @Failure 404 {object} apperrors.AppError
// @Router /consumables/{id} [put]
func (s *CatalogService) UpdateConsumable(w http.ResponseWriter, r *http.Request) {
	var req models.ConsumableUpdate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Cost != nil && req.Cost.IsNegative() {
		SendAppError(w, apperrors.NewAppError(apperrors.ValidationFailed, "cost must not be negative"))
		return
	}

	item, err := s.findConsumable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}

	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Cost != nil {
		item.Cost = *req.Cost
	}
	if req.MetaData != nil {
		item.MetaData = req.MetaData
	}

	err = s.db.QueryRowContext(r.Context(), `
		UPDATE consumables SET name = $1, cost = $2, meta_data = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`,
		item.Name, item.Cost, item.MetaData, item.ID).Scan(&item.UpdatedAt)
	if err != nil {
		log.Printf("[CATALOG] Failed to update consumable %s: %v", item.ID, err)
		SendErrorResponse(w, "Failed to update consumable", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// DeleteConsumable removes a consumable definition; past ledger entries
// keep the name they recorded at apply time
// @Summary Delete consumable
// @Tags catalog
// @Security BearerAuth
// @Param id path string true "Consumable ID"
// @Success 204 "Deleted"
// @Failure 404 {object} apperrors.AppError
// @Router /consumables/{id} [delete]
func (s *CatalogService) DeleteConsumable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.db.ExecContext(r.Context(), `DELETE FROM consumables WHERE id = $1`, id)
	if err != nil {
		log.Printf("[CATALOG] Failed to delete consumable %s: %v", id, err)
		SendErrorResponse(w, "Failed to delete consumable", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendAppError(w, apperrors.ErrConsumableNotFound)
		return
	}

	log.Printf("[CATALOG] Deleted consumable %s", id)
	w.WriteHeader(http.StatusNoContent)
}

// ApplyConsumable debits an account by the consumable's cost
// @Summary Apply consumable
// @Description Debits cost x count from the target account; fails when the balance would go negative
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Consumable ID"
// @Param request body models.ApplyRequest true "Target account and count"
// @Success 200 {object} object{entry=models.LedgerEntry,new_balance=string}
// @Failure 400 {object} apperrors.AppError
// @Failure 404 {object} apperrors.AppError
// @Router /consumables/{id}/apply [post]
func (s *CatalogService) ApplyConsumable(w http.ResponseWriter, r *http.Request) {
	var req models.ApplyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	item, err := s.findConsumable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Applied " + strconv.Itoa(req.Count) + " x " + item.Name
	}

	actorID, actorUsername := actorFromContext(r.Context())
	entry, err := s.ledger.ApplyAdjustment(r.Context(), &AdjustmentRequest{
		AccountID:      req.UserID,
		Amount:         item.Cost.Mul(decimal.NewFromInt(int64(req.Count))).Neg(),
		EventType:      models.EventConsumableApplication,
		Description:    description,
		Actor:          actorID,
		ActorUsername:  actorUsername,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Extra: models.Metadata{
			"consumable_id":   item.ID,
			"consumable_name": item.Name,
			"count":           req.Count,
		},
	})
	if err != nil {
		SendAppError(w, err)
		return
	}

	log.Printf("[CATALOG] Applied consumable %s x%d to account %s", item.ID, req.Count, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entry":       entry,
		"new_balance": entry.NewBalance,
	})
}

// CreatePurchasable defines a new purchasable
// @Summary Create purchasable
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.PurchasableCreate true "Purchasable definition"
// @Success 201 {object} models.Purchasable
// @Failure 400 {object} services.ErrorResponse
// @Router /purchasables [post]
func (s *CatalogService) CreatePurchasable(w http.ResponseWriter, r *http.Request) {
	var req models.PurchasableCreate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Price.IsNegative() || req.CreditAmount.IsNegative() {
		SendAppError(w, apperrors.NewAppError(apperrors.ValidationFailed, "price and credit_amount must not be negative"))
		return
	}

	item := &models.Purchasable{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Price:        req.Price,
		CreditAmount: req.CreditAmount,
		MetaData:     req.MetaData,
	}
	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO purchasables (id, name, price, credit_amount, meta_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		item.ID, item.Name, item.Price, item.CreditAmount, item.MetaData).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		log.Printf("[CATALOG] Failed to create purchasable %q: %v", req.Name, err)
		SendErrorResponse(w, "Failed to create purchasable", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CATALOG] Created purchasable %s (%q)", item.ID, item.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// ListPurchasables lists purchasable definitions
// @Summary List purchasables
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.PurchasablesList
// @Router /purchasables [get]
func (s *CatalogService) ListPurchasables(w http.ResponseWriter, r *http.Request) {
	skip, limit := parsePagination(r)

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, name, price, credit_amount, meta_data, created_at, updated_at
		FROM purchasables
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		log.Printf("[CATALOG] Failed to list purchasables: %v", err)
		SendErrorResponse(w, "Failed to fetch purchasables", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []models.Purchasable{}
	for rows.Next() {
		var p models.Purchasable
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CreditAmount, &p.MetaData,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			log.Printf("[CATALOG] Failed to scan purchasable: %v", err)
			SendErrorResponse(w, "Failed to fetch purchasables", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, p)
	}

	var total int
	if err := s.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM purchasables`).Scan(&total); err != nil {
		log.Printf("[CATALOG] Failed to count purchasables: %v", err)
		SendErrorResponse(w, "Failed to fetch purchasables", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.PurchasablesList{Purchasables: items, Total: total})
}

// GetPurchasable fetches one purchasable definition
// @Summary Get purchasable
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param id path string true "Purchasable ID"
// @Success 200 {object} models.Purchasable
// @Failure 404 {object} apperrors.AppError
// @Router /purchasables/{id} [get]
func (s *CatalogService) GetPurchasable(w http.ResponseWriter, r *http.Request) {
	item, err := s.findPurchasable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// UpdatePurchasable applies a partial update to a purchasable
// @Summary Update purchasable
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Purchasable ID"
// @Param request body models.PurchasableUpdate true "Fields to change"
// @Success 200 {object} models.Purchasable
// @Failure 404 {object} apperrors.AppError
// @Router /purchasables/{id} [put]
func (s *CatalogService) UpdatePurchasable(w http.ResponseWriter, r *http.Request) {
	var req models.PurchasableUpdate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if (req.Price != nil && req.Price.IsNegative()) ||
		(req.CreditAmount != nil && req.CreditAmount.IsNegative()) {
		SendAppError(w, apperrors.NewAppError(apperrors.ValidationFailed, "price and credit_amount must not be negative"))
		return
	}

	item, err := s.findPurchasable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}

	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Price != nil {
		item.Price = *req.Price
	}
	if req.CreditAmount != nil {
		item.CreditAmount = *req.CreditAmount
	}
	if req.MetaData != nil {
		item.MetaData = req.MetaData
	}

	err = s.db.QueryRowContext(r.Context(), `
		UPDATE purchasables
		SET name = $1, price = $2, credit_amount = $3, meta_data = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		item.Name, item.Price, item.CreditAmount, item.MetaData, item.ID).Scan(&item.UpdatedAt)
	if err != nil {
		log.Printf("[CATALOG] Failed to update purchasable %s: %v", item.ID, err)
		SendErrorResponse(w, "Failed to update purchasable", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// DeletePurchasable removes a purchasable definition
// @Summary Delete purchasable
// @Tags catalog
// @Security BearerAuth
// @Param id path string true "Purchasable ID"
// @Success 204 "Deleted"
// @Failure 404 {object} apperrors.AppError
// @Router /purchasables/{id} [delete]
func (s *CatalogService) DeletePurchasable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.db.ExecContext(r.Context(), `DELETE FROM purchasables WHERE id = $1`, id)
	if err != nil {
		log.Printf("[CATALOG] Failed to delete purchasable %s: %v", id, err)
		SendErrorResponse(w, "Failed to delete purchasable", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendAppError(w, apperrors.ErrPurchasableNotFound)
		return
	}

	log.Printf("[CATALOG] Deleted purchasable %s", id)
	w.WriteHeader(http.StatusNoContent)
}

// ApplyPurchasable credits an account by the purchasable's credit amount
// @Summary Apply purchasable
// @Description Credits credit_amount x count to the target account; payment itself is collected out of band
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Purchasable ID"
// @Param request body models.ApplyRequest true "Target account and count"
// @Success 200 {object} object{entry=models.LedgerEntry,new_balance=string}
// @Failure 400 {object} apperrors.AppError
// @Failure 404 {object} apperrors.AppError
// @Router /purchasables/{id}/apply [post]
func (s *CatalogService) ApplyPurchasable(w http.ResponseWriter, r *http.Request) {
	var req models.ApplyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	item, err := s.findPurchasable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		SendAppError(w, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Purchased " + strconv.Itoa(req.Count) + " x " + item.Name
	}

	actorID, actorUsername := actorFromContext(r.Context())
	entry, err := s.ledger.ApplyAdjustment(r.Context(), &AdjustmentRequest{
		AccountID:      req.UserID,
		Amount:         item.CreditAmount.Mul(decimal.NewFromInt(int64(req.Count))),
		EventType:      models.EventPurchasableApplication,
		Description:    description,
		Actor:          actorID,
		ActorUsername:  actorUsername,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Extra: models.Metadata{
			"purchasable_id":   item.ID,
			"purchasable_name": item.Name,
			"price":            item.Price.String(),
			"count":            req.Count,
		},
	})
	if err != nil {
		SendAppError(w, err)
		return
	}

	log.Printf("[CATALOG] Applied purchasable %s x%d to account %s", item.ID, req.Count, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entry":       entry,
		"new_balance": entry.NewBalance,
	})
}

func (s *CatalogService) findConsumable(ctx context.Context, id string) (*models.Consumable, error) {
	var c models.Consumable
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost, meta_data, created_at, updated_at
		FROM consumables WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Cost, &c.MetaData, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrConsumableNotFound
		}
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to fetch consumable").WithDetails(err.Error())
	}
	return &c, nil
}

func (s *CatalogService) findPurchasable(ctx context.Context, id string) (*models.Purchasable, error) {
	var p models.Purchasable
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, credit_amount, meta_data, created_at, updated_at
		FROM purchasables WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.CreditAmount, &p.MetaData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrPurchasableNotFound
		}
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to fetch purchasable").WithDetails(err.Error())
	}
	return &p, nil
}
