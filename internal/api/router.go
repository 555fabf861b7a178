package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/myassin/authflow/internal/app"
	iauth "github.com/myassin/authflow/internal/auth"
	"github.com/myassin/authflow/internal/handlers"
	"github.com/myassin/authflow/internal/middleware"
	"github.com/myassin/authflow/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, sessions *iauth.SessionService, accounts *services.AccountService, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.ClientOrigin))

	r.NoRoute(middleware.NotFoundHandler)

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		r.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	cookie := handlers.CookieConfig{
		Name:   cfg.Auth.Cookie.Name,
		Domain: cfg.Auth.Cookie.Domain,
		Secure: cfg.Auth.Cookie.Secure,
		TTL:    sessions.TTL(),
	}
	authHandler := handlers.NewAuthHandler(accounts, cookie)

	// Public auth routes, rate limited against credential stuffing and
	// token guessing.
	auth := r.Group("/api/auth")
	auth.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/verify-email", authHandler.VerifyEmail)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	// Authenticated routes
	requireAuth := middleware.SessionAuth(sessions, cookie.Name)
	authed := r.Group("/api/auth")
	authed.Use(requireAuth)
	{
		authed.GET("/me", authHandler.Me)
	}

	return r, nil
}
