package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/iv-workbench/backend/internal/api"
	"github.com/iv-workbench/backend/internal/config"
	"github.com/iv-workbench/backend/internal/engine"
	"github.com/iv-workbench/backend/internal/instrument"
	"github.com/iv-workbench/backend/internal/session"
	"github.com/iv-workbench/backend/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "IVWorkbench.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Initialize the run archive
	archive, err := storage.NewArchive(cfg.GetDataDir())
	if err != nil {
		fmt.Printf("Failed to initialize archive: %v\n", err)
		os.Exit(1)
	}

	// Initialize the instrument port
	port, err := buildPort(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize instrument: %v\n", err)
		os.Exit(1)
	}

	// Initialize the acquisition engine
	eng := engine.NewController(engine.Config{
		MaxRetries:   cfg.Engine.MaxRetries,
		RetryBackoff: cfg.RetryBackoff(),
		CallTimeout:  cfg.CallTimeout(),
		SyncEvery:    cfg.Engine.SyncEvery,
		BusCapacity:  cfg.Engine.BusCapacity,
	})

	// Initialize review sessions and presets
	sessionMgr := session.NewManager(archive, cfg.Storage.TempDirectory)
	presets, err := config.LoadPresets(cfg.Storage.PresetsFile)
	if err != nil {
		fmt.Printf("Failed to load presets: %v\n", err)
		os.Exit(1)
	}

	// Background cleanup: aged review sessions, optionally aged run logs
	go func() {
		interval := time.Duration(cfg.Storage.CleanupInterval) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			sessionMgr.CleanupOldSessions(session.SessionMaxAge)
			if cfg.Storage.RetentionDays > 0 {
				age := time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
				if n, err := archive.CleanupOlderThan(age); err == nil && n > 0 {
					fmt.Printf("[Cleanup] removed %d aged run logs\n", n)
				}
			}
		}
	}()

	deps := &api.Dependencies{
		Engine:     eng,
		Port:       port,
		Archive:    archive,
		SessionMgr: sessionMgr,
		Presets:    presets,
		Version:    Version,
	}
	handlers := api.NewHandlers(deps)

	e := echo.New()
	e.HideBanner = true

	api.SetupMiddleware(e)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") || path == "/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           IV Workbench Server                             ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Instrument: %-45s║\n", cfg.Instrument.Backend)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}

// buildPort selects the instrument backend from the config.
func buildPort(cfg *config.AppConfig) (instrument.Port, error) {
	switch cfg.Instrument.Backend {
	case "", "simulator":
		sim := instrument.NewSimulator(cfg.Instrument.SimResistance)
		sim.NoiseAmplitude = cfg.Instrument.SimNoise
		sim.Latency = time.Duration(cfg.Instrument.SimLatencyMicros) * time.Microsecond
		return sim, nil
	case "tsp", "visa":
		if cfg.Instrument.Address == "" {
			return nil, fmt.Errorf("instrument backend %q requires an address", cfg.Instrument.Backend)
		}
		return instrument.DialTSP(cfg.Instrument.Address, cfg.Instrument.Channel)
	default:
		return nil, fmt.Errorf("unknown instrument backend %q", cfg.Instrument.Backend)
	}
}
