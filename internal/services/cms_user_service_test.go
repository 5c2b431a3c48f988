package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

var cmsUserCols = []string{"mobile", "email", "name", "created_at", "updated_at"}

func newCMSFixture(t *testing.T) (*CMSUserService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewCMSUserService(db), mock
}

func TestCMSUserService_CreateCMSUser(t *testing.T) {
	t.Run("creates directory entry", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("INSERT INTO cms_users").
			WithArgs("+85212345678", "lee@example.com", "Lee Wong").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		body, _ := json.Marshal(models.CMSUserCreate{
			Mobile: "+852 1234-5678",
			Email:  "Lee@Example.com",
			Name:   "Lee Wong",
		})
		r := httptest.NewRequest("POST", "/cms/users", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.CreateCMSUser(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var user models.CMSUser
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
		assert.Equal(t, "+85212345678", user.Mobile)
		assert.Equal(t, "lee@example.com", user.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate mobile returns conflict", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("INSERT INTO cms_users").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "cms_users_pkey"})

		body, _ := json.Marshal(models.CMSUserCreate{
			Mobile: "+85212345678",
			Email:  "lee@example.com",
			Name:   "Lee Wong",
		})
		r := httptest.NewRequest("POST", "/cms/users", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.CreateCMSUser(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)

		var appErr apperrors.AppError
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &appErr))
		assert.Equal(t, apperrors.DuplicateMobile, appErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email returns conflict", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("INSERT INTO cms_users").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "cms_users_email_key"})

		body, _ := json.Marshal(models.CMSUserCreate{
			Mobile: "+85212345678",
			Email:  "taken@example.com",
			Name:   "Lee Wong",
		})
		r := httptest.NewRequest("POST", "/cms/users", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.CreateCMSUser(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)

		var appErr apperrors.AppError
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &appErr))
		assert.Equal(t, apperrors.DuplicateEmail, appErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid mobile rejected", func(t *testing.T) {
		service, _ := newCMSFixture(t)

		body := []byte(`{"mobile":"not a number","email":"lee@example.com","name":"Lee"}`)
		r := httptest.NewRequest("POST", "/cms/users", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.CreateCMSUser(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCMSUserService_GetCMSUser(t *testing.T) {
	t.Run("found by mobile", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+WHERE mobile = \\$1").
			WithArgs("+85212345678").
			WillReturnRows(sqlmock.NewRows(cmsUserCols).
				AddRow("+85212345678", "lee@example.com", "Lee Wong", time.Now(), time.Now()))

		r := withURLParam(httptest.NewRequest("GET", "/cms/users/+85212345678", nil), "mobile", "+85212345678")
		w := httptest.NewRecorder()
		service.GetCMSUser(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var user models.CMSUser
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
		assert.Equal(t, "Lee Wong", user.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown mobile returns 404", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+WHERE mobile = \\$1").
			WithArgs("+85200000000").
			WillReturnRows(sqlmock.NewRows(cmsUserCols))

		r := withURLParam(httptest.NewRequest("GET", "/cms/users/+85200000000", nil), "mobile", "+85200000000")
		w := httptest.NewRecorder()
		service.GetCMSUser(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)

		var appErr apperrors.AppError
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &appErr))
		assert.Equal(t, apperrors.CMSUserNotFound, appErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCMSUserService_ListCMSUsers(t *testing.T) {
	t.Run("paginated list with total", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+ORDER BY created_at DESC").
			WithArgs(0, 100).
			WillReturnRows(sqlmock.NewRows(cmsUserCols).
				AddRow("+85212345678", "lee@example.com", "Lee Wong", time.Now(), time.Now()).
				AddRow("+85287654321", "ana@example.com", "Ana Chan", time.Now().Add(-time.Hour), time.Now()))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM cms_users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

		r := httptest.NewRequest("GET", "/cms/users", nil)
		w := httptest.NewRecorder()
		service.ListCMSUsers(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var list models.CMSUsersList
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Len(t, list.Users, 2)
		assert.Equal(t, 12, list.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty directory returns empty list not null", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+ORDER BY created_at DESC").
			WithArgs(0, 100).
			WillReturnRows(sqlmock.NewRows(cmsUserCols))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM cms_users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		r := httptest.NewRequest("GET", "/cms/users", nil)
		w := httptest.NewRecorder()
		service.ListCMSUsers(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"users":[]`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCMSUserService_UpdateCMSUser(t *testing.T) {
	t.Run("partial update keeps absent fields", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+WHERE mobile = \\$1").
			WithArgs("+85212345678").
			WillReturnRows(sqlmock.NewRows(cmsUserCols).
				AddRow("+85212345678", "lee@example.com", "Lee Wong", time.Now(), time.Now()))
		mock.ExpectQuery("UPDATE cms_users\\s+SET email = \\$1, name = \\$2").
			WithArgs("lee@example.com", "Lee W. Wong", "+85212345678").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

		body := []byte(`{"name":"Lee W. Wong"}`)
		r := withURLParam(httptest.NewRequest("PUT", "/cms/users/+85212345678", bytes.NewBuffer(body)), "mobile", "+85212345678")
		w := httptest.NewRecorder()
		service.UpdateCMSUser(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var user models.CMSUser
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
		assert.Equal(t, "Lee W. Wong", user.Name)
		assert.Equal(t, "lee@example.com", user.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email collision returns conflict", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectQuery("FROM cms_users\\s+WHERE mobile = \\$1").
			WithArgs("+85212345678").
			WillReturnRows(sqlmock.NewRows(cmsUserCols).
				AddRow("+85212345678", "lee@example.com", "Lee Wong", time.Now(), time.Now()))
		mock.ExpectQuery("UPDATE cms_users\\s+SET email = \\$1, name = \\$2").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "cms_users_email_key"})

		body := []byte(`{"email":"taken@example.com"}`)
		r := withURLParam(httptest.NewRequest("PUT", "/cms/users/+85212345678", bytes.NewBuffer(body)), "mobile", "+85212345678")
		w := httptest.NewRecorder()
		service.UpdateCMSUser(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCMSUserService_DeleteCMSUser(t *testing.T) {
	t.Run("removes the entry", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectExec("DELETE FROM cms_users WHERE mobile = \\$1").
			WithArgs("+85212345678").
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := withURLParam(httptest.NewRequest("DELETE", "/cms/users/+85212345678", nil), "mobile", "+85212345678")
		w := httptest.NewRecorder()
		service.DeleteCMSUser(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown mobile returns 404", func(t *testing.T) {
		service, mock := newCMSFixture(t)

		mock.ExpectExec("DELETE FROM cms_users WHERE mobile = \\$1").
			WithArgs("+85200000000").
			WillReturnResult(sqlmock.NewResult(0, 0))

		r := withURLParam(httptest.NewRequest("DELETE", "/cms/users/+85200000000", nil), "mobile", "+85200000000")
		w := httptest.NewRecorder()
		service.DeleteCMSUser(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
