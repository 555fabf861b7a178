package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myassin/authflow/internal/middleware"
	"github.com/myassin/authflow/internal/services"
	"github.com/myassin/authflow/pkg/errors"
	"github.com/myassin/authflow/pkg/response"
)

// CookieConfig describes how the session cookie is written.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	TTL    time.Duration
}

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "session"

// AuthHandler serves the account lifecycle endpoints: signup, email
// verification, login, logout, and password reset.
type AuthHandler struct {
	accounts *services.AccountService
	cookie   CookieConfig
}

// NewAuthHandler wires the handler to the account service.
func NewAuthHandler(accounts *services.AccountService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return &AuthHandler{accounts: accounts, cookie: cookie}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=2"`
}

// POST /api/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.Signup(c.Request.Context(), services.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setSessionCookie(c, result.SessionToken)

	response.Success(c, http.StatusCreated, gin.H{
		"account":         result.Account,
		"email_delivered": result.EmailDelivered,
	})
}

type verifyEmailRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.VerifyEmail(c.Request.Context(), req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"account": account})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, token, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setSessionCookie(c, token)

	response.Success(c, http.StatusOK, gin.H{"account": account})
}

// POST /api/auth/logout
//
// Sessions are stateless, so logout is purely a client-side cookie clear;
// there is no server-side state to revoke and the endpoint always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/forgot-password
//
// The acknowledgment is identical whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "If that email is registered, a password reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.NewPassword)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"account": account})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	v, ok := c.Get(middleware.CtxAccountIDKey)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	accountID, _ := v.(string)

	account, err := h.accounts.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"account": account})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	ttl := h.cookie.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, int(ttl.Seconds()), "/", h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
}
