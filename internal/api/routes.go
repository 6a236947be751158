// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/config"
	"github.com/iv-workbench/backend/internal/engine"
	"github.com/iv-workbench/backend/internal/instrument"
	"github.com/iv-workbench/backend/internal/session"
	"github.com/iv-workbench/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Engine     *engine.Controller
	Port       instrument.Port
	Archive    *storage.Archive
	SessionMgr *session.Manager
	Presets    *config.PresetStore
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   *HealthHandler
	Run      *RunHandler
	Archive  *ArchiveHandler
	Session  *SessionHandler
	Analysis *AnalysisHandler
	Preset   *PresetHandler
	Live     *LiveHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Engine),
		Run:      NewRunHandler(deps.Engine, deps.Port, deps.Archive, deps.Presets),
		Archive:  NewArchiveHandler(deps.Archive),
		Session:  NewSessionHandler(deps.SessionMgr),
		Analysis: NewAnalysisHandler(deps.SessionMgr),
		Preset:   NewPresetHandler(deps.Presets),
		Live:     NewLiveHandler(deps.Engine),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	// Run control routes
	runGroup := e.Group("/api/runs")
	runGroup.POST("", handlers.Run.HandleStartRun)
	runGroup.GET("/status", handlers.Run.HandleStatus)
	runGroup.GET("/result", handlers.Run.HandleLastResult)
	runGroup.POST("/pause", handlers.Run.HandlePause)
	runGroup.POST("/resume", handlers.Run.HandleResume)
	runGroup.POST("/stop", handlers.Run.HandleStop)

	// Archive routes
	archiveGroup := e.Group("/api/archive")
	archiveGroup.GET("", handlers.Archive.HandleList)
	archiveGroup.GET("/:filename", handlers.Archive.HandleInfo)
	archiveGroup.GET("/:filename/download", handlers.Archive.HandleDownload)
	archiveGroup.POST("/recover", handlers.Archive.HandleRecover)

	// Review session routes
	sessionGroup := e.Group("/api/sessions")
	sessionGroup.POST("", handlers.Session.HandleOpen)
	sessionGroup.GET("/:sessionId", handlers.Session.HandleGet)
	sessionGroup.POST("/:sessionId/keepalive", handlers.Session.HandleKeepAlive)
	sessionGroup.GET("/:sessionId/samples", handlers.Session.HandleSamples)
	sessionGroup.GET("/:sessionId/samples/msgpack", handlers.Session.HandleSamplesMsgpack)
	sessionGroup.GET("/:sessionId/envelope", handlers.Session.HandleEnvelope)
	sessionGroup.DELETE("/:sessionId", handlers.Session.HandleClose)

	// Analysis routes
	analysisGroup := e.Group("/api/sessions/:sessionId/analysis")
	analysisGroup.GET("/summary", handlers.Analysis.HandleSummary)
	analysisGroup.GET("/resistance", handlers.Analysis.HandleResistance)
	analysisGroup.GET("/breakdown", handlers.Analysis.HandleBreakdown)
	analysisGroup.GET("/hysteresis", handlers.Analysis.HandleHysteresis)
	analysisGroup.GET("/differential", handlers.Analysis.HandleDifferential)

	// Preset routes
	presetGroup := e.Group("/api/presets")
	presetGroup.GET("", handlers.Preset.HandleList)
	presetGroup.GET("/:name", handlers.Preset.HandleGet)
	presetGroup.PUT("/:name", handlers.Preset.HandlePut)
	presetGroup.DELETE("/:name", handlers.Preset.HandleDelete)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/live", handlers.Live.HandleLive)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}
