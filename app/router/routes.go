// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/handlers"
	"github.com/amirphl/Kagutsuchi/app/middleware"
	"github.com/amirphl/Kagutsuchi/config"
	_ "github.com/amirphl/Kagutsuchi/docs"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/swaggo/swag"
	"go.uber.org/zap"
)

const healthPath = "/api/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth         handlers.AuthHandlerInterface
	Form         handlers.FormHandlerInterface
	Submission   handlers.SubmissionHandlerInterface
	Allocation   handlers.AllocationHandlerInterface
	Notification handlers.NotificationHandlerInterface
	Utm          handlers.UtmHandlerInterface
	Analytics    handlers.AnalyticsHandlerInterface
	Directory    handlers.DirectoryHandlerInterface
}

// HealthProbe reports whether a dependency is reachable
type HealthProbe func(ctx context.Context) error

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	config   *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	probes   map[string]HealthProbe
	logger   *zap.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	h Handlers,
	auth *middleware.AuthMiddleware,
	probes map[string]HealthProbe,
	logger *zap.Logger,
) Router {
	r := &FiberRouter{
		config:   cfg,
		handlers: h,
		auth:     auth,
		probes:   probes,
		logger:   logger.Named("router"),
	}

	r.app = fiber.New(fiber.Config{
		AppName:      "Kagutsuchi API",
		ServerHeader: "Kagutsuchi",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.config.Metrics.Enabled {
		r.app.Get(r.config.Metrics.Path, middleware.PrometheusHandler())
	}

	api := r.app.Group("/api")
	api.Get("/health", r.healthCheck)
	api.Get("/swagger.json", r.serveSwaggerJSON)

	api.Use(r.rateLimiter(r.config.Security.GlobalRateLimit, func(c fiber.Ctx) bool {
		return c.Path() == healthPath
	}))

	authn := r.auth.Authenticate()
	admin := middleware.RequireRoles(models.RoleAdmin)
	adminOrLead := middleware.RequireRoles(models.RoleAdmin, models.RoleLead)

	// Authentication
	auth := api.Group("/auth")
	auth.Use(r.rateLimiter(r.config.Security.AuthRateLimit, nil))
	auth.Post("/captcha", r.handlers.Auth.Captcha)
	auth.Post("/login", r.handlers.Auth.Login)
	auth.Post("/refresh", r.handlers.Auth.Refresh)
	auth.Post("/logout", authn, r.handlers.Auth.Logout)
	auth.Get("/me", authn, r.handlers.Auth.Me)

	// Forms; the code lookup is public so landing pages can render fields
	forms := api.Group("/forms")
	forms.Get("/code/:code", r.handlers.Form.GetByCode)
	forms.Get("/", authn, r.handlers.Form.List)
	forms.Post("/", authn, r.handlers.Form.Create)
	forms.Get("/:id", authn, r.handlers.Form.Get)
	forms.Put("/:id", authn, r.handlers.Form.Update)
	forms.Delete("/:id", authn, r.handlers.Form.Delete)
	forms.Post("/:id/fields", authn, r.handlers.Form.AddField)
	forms.Patch("/:id/fields/reorder", authn, r.handlers.Form.ReorderFields)
	forms.Put("/:id/fields/:fieldId", authn, r.handlers.Form.UpdateField)
	forms.Delete("/:id/fields/:fieldId", authn, r.handlers.Form.DeleteField)

	// Submissions; static segments are registered before the parameterised ones
	submissions := api.Group("/submissions")
	submissions.Post("/import", authn, admin, r.handlers.Submission.Import)
	submissions.Get("/export", authn, r.handlers.Submission.Export)
	submissions.Post("/:code", r.submissionLimiter(), r.handlers.Submission.Submit)
	submissions.Get("/", authn, r.handlers.Submission.List)
	submissions.Get("/:id", authn, r.handlers.Submission.Get)
	submissions.Delete("/:id", authn, r.handlers.Submission.Delete)
	submissions.Patch("/:id/allocate", authn, admin, r.handlers.Submission.Allocate)

	// Allocation requests
	allocations := api.Group("/allocation-requests", authn)
	allocations.Get("/", r.handlers.Allocation.List)
	allocations.Post("/", adminOrLead, r.handlers.Allocation.Create)
	allocations.Put("/:id", admin, r.handlers.Allocation.Process)
	allocations.Patch("/:id", admin, r.handlers.Allocation.AppendNotes)
	allocations.Delete("/:id", r.handlers.Allocation.Cancel)

	// Notifications
	notifications := api.Group("/notifications", authn)
	notifications.Get("/", r.handlers.Notification.List)
	notifications.Patch("/read-all", r.handlers.Notification.MarkAllRead)
	notifications.Patch("/:id/read", r.handlers.Notification.MarkRead)
	notifications.Delete("/:id", r.handlers.Notification.Delete)

	// UTM; tracking is public
	utm := api.Group("/utm")
	utm.Get("/track", r.handlers.Utm.TrackRedirect)
	utm.Post("/track", r.handlers.Utm.Track)
	utm.Get("/campaigns", authn, r.handlers.Utm.ListCampaigns)
	utm.Post("/campaigns", authn, r.handlers.Utm.CreateCampaign)
	utm.Put("/campaigns/:id", authn, r.handlers.Utm.UpdateCampaign)
	utm.Delete("/campaigns/:id", authn, r.handlers.Utm.DeleteCampaign)
	utm.Get("/sources", authn, r.handlers.Utm.ListSources)
	utm.Post("/sources", authn, r.handlers.Utm.CreateSource)
	utm.Get("/mediums", authn, r.handlers.Utm.ListMediums)
	utm.Post("/mediums", authn, r.handlers.Utm.CreateMedium)
	utm.Get("/links", authn, r.handlers.Utm.ListLinks)
	utm.Post("/links", authn, r.handlers.Utm.GenerateLinks)
	utm.Get("/links/:id", authn, r.handlers.Utm.GetLink)
	utm.Delete("/links/:id", authn, r.handlers.Utm.DeleteLink)
	utm.Get("/settings", authn, r.handlers.Utm.GetSettings)
	utm.Put("/settings", authn, admin, r.handlers.Utm.UpdateSettings)

	// Analytics
	analytics := api.Group("/analytics", authn)
	analytics.Get("/funnel", r.handlers.Analytics.Funnel)
	analytics.Get("/breakdowns", r.handlers.Analytics.Breakdowns)
	analytics.Get("/trend", r.handlers.Analytics.Trend)
	analytics.Get("/attribution", r.handlers.Analytics.Attribution)

	// Directory
	api.Get("/entities", authn, r.handlers.Directory.ListEntities)
	api.Post("/entities", authn, admin, r.handlers.Directory.CreateEntity)
	api.Get("/uni-mappings", authn, r.handlers.Directory.ListUniMappings)
	api.Post("/uni-mappings", authn, admin, r.handlers.Directory.CreateUniMapping)
	api.Get("/users", authn, admin, r.handlers.Directory.ListUsers)
	api.Post("/users", authn, admin, r.handlers.Directory.CreateUser)

	r.app.Use(r.notFoundHandler)

	r.logger.Info("Routes configured", zap.Int("handlers", int(r.app.HandlersCount())))
}

func (r *FiberRouter) setupMiddleware() {
	r.app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("Panic recovered",
				zap.Any("panic", e),
				zap.String("request_id", requestid.FromContext(c)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
		},
	}))

	r.app.Use(middleware.Tracing())
	if r.config.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		OriginAgentCluster:        "?1",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	// The public submission endpoint answers CORS itself
	r.app.Use(middleware.SubmissionCORS(r.config.Submission))
	r.app.Use(cors.New(cors.Config{
		Next:             middleware.IsPublicSubmission,
		AllowOrigins:     r.config.Security.AllowedOrigins,
		AllowMethods:     r.config.Security.AllowedMethods,
		AllowHeaders:     r.config.Security.AllowedHeaders,
		ExposeHeaders:    []string{fiber.HeaderXRequestID, fiber.HeaderContentDisposition},
		AllowCredentials: r.config.Security.AllowCredentials,
		MaxAge:           r.config.Security.CORSMaxAge,
	}))

	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/utm/track")
		},
	}))

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${respHeader:X-Request-ID}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent},"referer":"${referer}"}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath || c.Path() == r.config.Metrics.Path
		},
	}))
}

func (r *FiberRouter) rateLimiter(max int, next func(fiber.Ctx) bool) fiber.Handler {
	return limiter.New(limiter.Config{
		Next:       next,
		Max:        max,
		Expiration: r.config.Security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
	})
}

func (r *FiberRouter) submissionLimiter() fiber.Handler {
	if r.config.Submission.RateLimit <= 0 {
		return func(c fiber.Ctx) error { return c.Next() }
	}
	return r.rateLimiter(r.config.Submission.RateLimit, nil)
}

func (r *FiberRouter) Start(address string) error {
	r.logger.Info("Starting server", zap.String("address", address))
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map, len(r.probes))
	healthy := true
	for name, probe := range r.probes {
		if err := probe(ctx); err != nil {
			healthy = false
			checks[name] = "down"
			r.logger.Warn("Health probe failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		checks[name] = "up"
	}

	data := fiber.Map{
		"status":    "ok",
		"timestamp": utils.UTCNow().Unix(),
		"version":   r.config.Deployment.Version,
		"service":   "kagutsuchi-api",
		"checks":    checks,
	}
	if !healthy {
		data["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: "Service is degraded",
			Data:    data,
			Error:   dto.ErrorDetail{Code: "SERVICE_DEGRADED"},
		})
	}
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}

func (r *FiberRouter) serveSwaggerJSON(c fiber.Ctx) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{
			Success: false,
			Message: "Failed to load Swagger documentation",
			Error: dto.ErrorDetail{
				Code: "SWAGGER_LOAD_ERROR",
			},
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(doc)
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "Endpoint not found",
		Error: dto.ErrorDetail{
			Code:    "NOT_FOUND",
			Details: fiber.Map{"method": c.Method(), "path": c.Path()},
		},
	})
}

func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	errorCode := "INTERNAL_ERROR"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
		errorCode = strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_"))
	}
	if code >= fiber.StatusInternalServerError {
		r.logger.Error("Unhandled request error",
			zap.String("request_id", requestid.FromContext(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errorCode,
		},
	})
}

func generateRequestID() string {
	return uuid.NewString()
}
