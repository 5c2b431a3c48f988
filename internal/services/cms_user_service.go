package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// CMSUserService handles the content-management staff directory. These
// entries carry no credit balance, so unlike agent accounts they are hard
// deleted and never touch the ledger.
type CMSUserService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCMSUserService(db *sql.DB) *CMSUserService {
	return &CMSUserService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

const cmsUserColumns = `mobile, email, name, created_at, updated_at`

// CreateCMSUser adds a directory entry
// @Summary Create CMS user
// @Tags cms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CMSUserCreate true "User data"
// @Success 201 {object} models.CMSUser
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} apperrors.AppError
// @Router /cms/users [post]
func (s *CMSUserService) CreateCMSUser(w http.ResponseWriter, r *http.Request) {
	var req models.CMSUserCreate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Mobile = normalizeMobile(req.Mobile)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user := &models.CMSUser{
		Mobile: req.Mobile,
		Email:  req.Email,
		Name:   req.Name,
	}
	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO cms_users (mobile, email, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		user.Mobile, user.Email, user.Name).
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
		log.Printf("[CMS] Failed to create user %s: %v", req.Mobile, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CMS] Created user %s", user.Mobile)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GetCMSUser fetches one directory entry by mobile number
// @Summary Get CMS user
// @Tags cms
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Success 200 {object} models.CMSUser
// @Failure 404 {object} apperrors.AppError
// @Router /cms/users/{mobile} [get]
func (s *CMSUserService) GetCMSUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	user, err := s.findCMSUser(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// ListCMSUsers lists directory entries with pagination
// @Summary List CMS users
// @Tags cms
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset (default 0)"
// @Param limit query int false "Page size (default 100, max 100)"
// @Success 200 {object} models.CMSUsersList
// @Failure 500 {object} services.ErrorResponse
// @Router /cms/users [get]
func (s *CMSUserService) ListCMSUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit := parsePagination(r)

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT `+cmsUserColumns+` FROM cms_users
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		log.Printf("[CMS] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.CMSUser{}
	for rows.Next() {
		var u models.CMSUser
		if err := rows.Scan(&u.Mobile, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
			log.Printf("[CMS] Failed to scan user: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	var total int
	if err := s.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM cms_users`).Scan(&total); err != nil {
		log.Printf("[CMS] Failed to count users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.CMSUsersList{Users: users, Total: total})
}

// UpdateCMSUser applies a partial update; absent fields stay untouched
// @Summary Update CMS user
// @Tags cms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Param request body models.CMSUserUpdate true "Fields to change"
// @Success 200 {object} models.CMSUser
// @Failure 404 {object} apperrors.AppError
// @Failure 409 {object} apperrors.AppError
// @Router /cms/users/{mobile} [put]
func (s *CMSUserService) UpdateCMSUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	var req models.CMSUserUpdate
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := s.findCMSUser(r.Context(), mobile)
	if err != nil {
		SendAppError(w, err)
		return
	}

	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Name != nil {
		user.Name = *req.Name
	}

	err = s.db.QueryRowContext(r.Context(), `
		UPDATE cms_users
		SET email = $1, name = $2, updated_at = NOW()
		WHERE mobile = $3
		RETURNING updated_at`,
		user.Email, user.Name, user.Mobile).Scan(&user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			SendAppError(w, apperrors.ErrDuplicateEmail)
			return
		}
		log.Printf("[CMS] Failed to update user %s: %v", user.Mobile, err)
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CMS] Updated user %s", user.Mobile)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// DeleteCMSUser removes a directory entry permanently
// @Summary Delete CMS user
// @Tags cms
// @Security BearerAuth
// @Param mobile path string true "Mobile number"
// @Success 204 "Deleted"
// @Failure 404 {object} apperrors.AppError
// @Router /cms/users/{mobile} [delete]
func (s *CMSUserService) DeleteCMSUser(w http.ResponseWriter, r *http.Request) {
	mobile := normalizeMobile(chi.URLParam(r, "mobile"))

	result, err := s.db.ExecContext(r.Context(), `DELETE FROM cms_users WHERE mobile = $1`, mobile)
	if err != nil {
		log.Printf("[CMS] Failed to delete user %s: %v", mobile, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Printf("[CMS] Failed to delete user %s: %v", mobile, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendAppError(w, apperrors.ErrCMSUserNotFound)
		return
	}

	log.Printf("[CMS] Deleted user %s", mobile)
	w.WriteHeader(http.StatusNoContent)
}

func (s *CMSUserService) findCMSUser(ctx context.Context, mobile string) (*models.CMSUser, error) {
	var user models.CMSUser
	err := s.db.QueryRowContext(ctx, `
		SELECT `+cmsUserColumns+` FROM cms_users
		WHERE mobile = $1`, mobile).
		Scan(&user.Mobile, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrCMSUserNotFound
		}
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to fetch user").WithDetails(err.Error())
	}
	return &user, nil
}
