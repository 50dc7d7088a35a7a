package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type testRequest struct {
	AccountID string `validate:"required"`
	Function  string `validate:"required,oneof=deposit withdraw transfer"`
}

func TestHelper_ValidateStruct(t *testing.T) {
	vh := NewHelper()

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&testRequest{AccountID: "acc-1", Function: "deposit"})
		assert.NoError(t, err)
	})

	t.Run("missing and out-of-set fields", func(t *testing.T) {
		err := vh.ValidateStruct(&testRequest{Function: "mint"})
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2)
	})
}

func TestSendErrorResponse(t *testing.T) {
	vh := NewHelper()

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Invalid request body", http.StatusBadRequest, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Invalid request body", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation details included", func(t *testing.T) {
		err := vh.ValidateStruct(&testRequest{AccountID: "acc-1"})
		assert.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "Function")
	})
}
