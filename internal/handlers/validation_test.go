package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appValidator "github.com/myassin/authflow/pkg/validator"
)

func contextWithBody(t *testing.T, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestBindAndValidateAcceptsValidPayload(t *testing.T) {
	c, _ := contextWithBody(t, `{"email":"a@x.com","password":"Abc123!","name":"Test"}`)

	var req signupRequest
	require.True(t, bindAndValidate(c, &req))
	require.Equal(t, "a@x.com", req.Email)
}

func TestBindAndValidateRejectsMalformedJSON(t *testing.T) {
	c, w := contextWithBody(t, `{"email":`)

	var req signupRequest
	require.False(t, bindAndValidate(c, &req))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid JSON payload")
}

func TestBindAndValidateReportsFieldFailures(t *testing.T) {
	c, w := contextWithBody(t, `{"email":"nope","name":"T"}`)

	var req signupRequest
	require.False(t, bindAndValidate(c, &req))
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := w.Body.String()
	require.Contains(t, body, "email must be a valid email address")
	require.Contains(t, body, "password is required")
	require.Contains(t, body, "name must be at least 2 characters")
}

func TestFormatValidationError(t *testing.T) {
	require.Equal(t, "invalid request payload", formatValidationError(nil))

	msg := formatValidationError(appValidator.ValidationErrors{
		{Field: "code", Tag: "len", Param: "6"},
		{Field: "new_password", Tag: "required"},
	})
	require.Equal(t, "code must be exactly 6 characters; new password is required", msg)
}
