// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vlsi/ksar/internal/config"
	"github.com/vlsi/ksar/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store    storage.Store
	Registry ReportRegistry
	Jobs     UploadJobs
	Config   *config.AppConfig
	Version  string
	Logger   *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Parse  ParseHandler
	Files  FileHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Registry),
		Upload: NewUploadHandler(deps.Store, deps.Registry, deps.Jobs, cfg.AllowedExtensions(), deps.Logger),
		Parse:  NewParseHandler(deps.Registry),
		Files:  NewFileHandler(deps.Store, deps.Registry, cfg.Security.AllowFileDeletion, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// File upload routes
	uploadGroup := apiGroup.Group("/files/upload")
	uploadGroup.POST("", handlers.Upload.HandleUploadFile)
	uploadGroup.POST("/binary", handlers.Upload.HandleUploadBinary)
	uploadGroup.POST("/chunk", handlers.Upload.HandleUploadChunk)
	uploadGroup.POST("/complete", handlers.Upload.HandleCompleteUpload)
	uploadGroup.GET("/jobs/:jobId", handlers.Upload.HandleUploadJobStatus)
	apiGroup.GET("/files/uploads", handlers.Upload.HandleGetUploads)

	// Parsed report routes
	filesGroup := apiGroup.Group("/files")
	filesGroup.GET("", handlers.Files.HandleListFiles)
	filesGroup.GET("/:id", handlers.Files.HandleGetFile)
	filesGroup.GET("/:id/data", handlers.Files.HandleGetData)
	filesGroup.GET("/:id/data/msgpack", handlers.Files.HandleGetDataMsgpack)
	filesGroup.GET("/:id/metrics", handlers.Files.HandleGetMetrics)
	filesGroup.GET("/:id/stats", handlers.Files.HandleGetMetricStats)
	filesGroup.GET("/:id/export.csv", handlers.Files.HandleExportCSV)
	filesGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)
	filesGroup.POST("/:id/parse", handlers.Parse.HandleStartParse)

	// Parse session routes
	parseGroup := apiGroup.Group("/parse")
	parseGroup.GET("/:sessionId/status", handlers.Parse.HandleParseStatus)
	parseGroup.GET("/:sessionId/progress", handlers.Parse.HandleParseProgressStream)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	// Use custom error handler
	e.HTTPErrorHandler = NewErrorHandler(log, cfg.Advanced.LogLevel == "debug")

	if cfg.Advanced.EnableRequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper:    skipPolling,
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				fields := []zap.Field{
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
				}
				if v.Error != nil {
					fields = append(fields, zap.Error(v.Error))
				}
				log.Info("request", fields...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("handler panicked", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))

	if cfg.Server.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.Contains(path, "/upload") ||
					strings.HasSuffix(path, "/progress") ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
			ErrorMessage: "Request timeout - parse took too long",
		}))
	}

	// Compression middleware
	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Request().URL.Path, "/progress")
			},
		}))
	}

	// Body limit middleware
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := splitList(cfg.Server.AllowOrigins)
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

func skipPolling(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasSuffix(path, "/status") ||
		strings.HasSuffix(path, "/progress") ||
		path == "/api/health"
}
