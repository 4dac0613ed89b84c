package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/auth"
	"github.com/junseo/bidwatcher/internal/bids"
	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/models"
	syncer "github.com/junseo/bidwatcher/internal/sync"
)

type Server struct {
	Store        *db.Store
	Bids         *bids.Service
	AuthService  *auth.Service
	Orchestrator *syncer.Orchestrator
	Echo         *echo.Echo

	cfg config.ServerConfig
	log *zap.Logger

	adminSecretOnce sync.Once
	adminSecret     string
	adminSecretErr  error
}

func NewServer(store *db.Store, bidsService *bids.Service, authService *auth.Service, orch *syncer.Orchestrator, cfg config.ServerConfig, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:5173"}
	for _, o := range cfg.CORSOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Store:        store,
		Bids:         bidsService,
		AuthService:  authService,
		Orchestrator: orch,
		Echo:         e,
		cfg:          cfg,
		log:          log,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api")
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	bidGroup := api.Group("/bids")
	bidGroup.Use(s.AuthService.Middleware)
	bidGroup.POST("/search", s.handleSearch)
	bidGroup.GET("/a-value/:no", s.handleBasisAmount)
	bidGroup.GET("/:no/detail", s.handleDetail)
	bidGroup.GET("/:no/regions", s.handleRegions)
	bidGroup.GET("/:no/results", s.handleResults)

	profile := api.Group("/profile")
	profile.Use(s.AuthService.Middleware)
	profile.GET("/location", s.handleGetLocation)
	profile.PUT("/location", s.handleSetLocation)
	profile.DELETE("/location", s.handleDeleteLocation)
	profile.GET("/preference", s.handleGetPreference)
	profile.PUT("/preference", s.handleSetPreference)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/sync", s.handleTriggerSync)
	admin.GET("/sync/windows", s.handleSyncWindows)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username, email and password are required"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req bids.SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.BeginDt == "" || req.EndDt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "inqryBgnDt and inqryEndDt are required"})
	}

	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	result, err := s.Bids.Search(c.Request().Context(), req, &userID)
	if err != nil {
		s.log.Error("search failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleDetail(c echo.Context) error {
	no := c.Param("no")
	ord := c.QueryParam("ord")

	notice, err := s.Bids.Detail(c.Request().Context(), no, ord)
	if errors.Is(err, bids.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, notice)
}

func (s *Server) handleRegions(c echo.Context) error {
	no := c.Param("no")
	ord := c.QueryParam("ord")

	regions, err := s.Bids.Regions(c.Request().Context(), no, ord)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if regions == nil {
		regions = []models.EligibleRegion{}
	}
	return c.JSON(http.StatusOK, regions)
}

func (s *Server) handleBasisAmount(c echo.Context) error {
	no := c.Param("no")
	bt := models.BidTypeConstruction
	if c.QueryParam("type") == string(models.BidTypeService) {
		bt = models.BidTypeService
	}

	payload, err := s.Bids.BasisAmount(c.Request().Context(), no, bt)
	if errors.Is(err, bids.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *Server) handleResults(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	user, err := s.AuthService.GetUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	bizNo := ""
	if user != nil {
		bizNo = user.BusinessNo
	}

	results, err := s.Bids.Results(c.Request().Context(), c.Param("no"), bizNo)
	if errors.Is(err, bids.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetLocation(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	loc, err := s.Store.GetUserLocation(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if loc == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No location set"})
	}
	return c.JSON(http.StatusOK, loc)
}

type locationRequest struct {
	LocationName string `json:"location_name"`
}

func (s *Server) handleSetLocation(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	name := strings.TrimSpace(req.LocationName)
	if name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "location_name is required"})
	}

	loc, err := s.Store.SetUserLocation(c.Request().Context(), userID, name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, loc)
}

func (s *Server) handleDeleteLocation(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	deleted, err := s.Store.DeleteUserLocation(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No location set"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetPreference(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	pref, err := s.Store.GetPreference(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if pref == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No preference set"})
	}
	return c.JSON(http.StatusOK, pref)
}

type preferenceRequest struct {
	SearchConditions models.Payload `json:"search_conditions"`
	EmailEnabled     bool           `json:"email_enabled"`
	Frequency        string         `json:"frequency"`
}

func (s *Server) handleSetPreference(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req preferenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.SearchConditions == nil {
		req.SearchConditions = models.Payload{}
	}

	freq := models.NotifyFrequency(req.Frequency)
	switch freq {
	case models.NotifyRealtime, models.NotifyDaily, models.NotifyWeekly:
	case "":
		freq = models.NotifyDaily
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "frequency must be realtime, daily or weekly"})
	}

	pref, err := s.Store.UpsertPreference(c.Request().Context(), userID, req.SearchConditions, req.EmailEnabled, freq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, pref)
}

// handleTriggerSync resyncs the last N days in the background. The
// orchestrator's own lock serializes it against scheduled cycles.
func (s *Server) handleTriggerSync(c echo.Context) error {
	days := 1
	if raw := strings.TrimSpace(c.QueryParam("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "days must be between 1 and 90"})
		}
		days = parsed
	}

	// context.WithoutCancel detaches from the HTTP lifecycle but keeps
	// trace values; the timeout bounds runaway resyncs.
	jobCtx, cancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 30*time.Minute,
	)
	go func() {
		defer cancel()
		if err := s.Orchestrator.ResyncDays(jobCtx, days); err != nil {
			s.log.Error("manual resync failed", zap.Int("days", days), zap.Error(err))
			return
		}
		s.log.Info("manual resync finished", zap.Int("days", days))
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Resync started",
		"days":    days,
	})
}

func (s *Server) handleSyncWindows(c echo.Context) error {
	limit := 50
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	windows, err := s.Store.ListWindows(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if windows == nil {
		windows = []models.SyncWindow{}
	}
	return c.JSON(http.StatusOK, windows)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := s.resolveAdminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func (s *Server) resolveAdminSecret() (string, error) {
	s.adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(s.cfg.AdminSecret)
		if secret != "" {
			s.adminSecret = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			s.adminSecretErr = fmt.Errorf("failed to generate admin secret fallback: %w", err)
			return
		}
		s.adminSecret = base64.RawURLEncoding.EncodeToString(buf)
		s.log.Warn("admin secret is not set; using ephemeral in-memory fallback secret")
	})

	if s.adminSecretErr != nil {
		return "", s.adminSecretErr
	}
	if s.adminSecret == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}
	return s.adminSecret, nil
}
