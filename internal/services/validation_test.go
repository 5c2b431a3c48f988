package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid account create", func(t *testing.T) {
		valid := models.AgentUserCreate{
			Mobile: "+5511999990001",
			Name:   "Maria Souza",
			Email:  "maria@example.com",
		}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("missing required fields", func(t *testing.T) {
		invalid := models.AgentUserCreate{
			Mobile: "not-a-number",
			// Name missing
			Email: "also-not-an-email",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3) // Mobile, Name, Email errors
	})

	t.Run("mobile must be E.164", func(t *testing.T) {
		invalid := models.AgentUserCreate{
			Mobile: "99999-0001",
			Name:   "Maria Souza",
			Email:  "maria@example.com",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Mobile", validationErrors[0].Field())
		assert.Equal(t, "e164", validationErrors[0].Tag())
	})

	t.Run("apply request bounds count", func(t *testing.T) {
		invalid := models.ApplyRequest{
			UserID: "29f0a8c6-6d3a-4ffd-9e59-1b2a9a1f7f00",
			Count:  5000,
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Count", validationErrors[0].Field())
		assert.Equal(t, "max", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := models.AgentUserCreate{
			Mobile: "bad",
			Email:  "bad",
		}

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.NotNil(t, response.Details)
		assert.Contains(t, response.Details, "Mobile")
		assert.Contains(t, response.Details, "Email")
	})
}

func TestSendAppError(t *testing.T) {
	t.Run("maps code to status", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendAppError(w, apperrors.ErrAccountNotFound)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response apperrors.AppError
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, apperrors.AccountNotFound, response.Code)
	})

	t.Run("conflict codes return 409", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendAppError(w, apperrors.ErrConcurrencyConflict)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown errors become internal", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendAppError(w, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response apperrors.AppError
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, apperrors.InternalError, response.Code)
	})
}

func TestNewValidationHelper(t *testing.T) {
	vh := NewValidationHelper()
	assert.NotNil(t, vh)
	assert.NotNil(t, vh.validator)
}
