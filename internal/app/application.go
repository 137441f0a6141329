package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"livedesk/internal/api"
	"livedesk/internal/assignment"
	"livedesk/internal/auth"
	"livedesk/internal/config"
	"livedesk/internal/database"
	"livedesk/internal/escalation"
	"livedesk/internal/events"
	"livedesk/internal/gateway"
	"livedesk/internal/handoff"
	"livedesk/internal/hub"
	"livedesk/internal/notify"
	"livedesk/internal/rules"
	"livedesk/internal/session"
	pkgdatabase "livedesk/pkg/database"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *session.Manager
	registry   *gateway.Registry
	heartbeat  *gateway.HeartbeatMonitor
	publisher  events.Publisher
	sweeper    *escalation.Sweeper
	directory  *auth.StaticDirectory
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication creates an application instance with all components wired.
// Initialization follows strict dependency order:
// Database → Session → Rules → Gateway → Events → Services → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).ValidateTablesExist(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	// STEP 2: Session manager with the active-session cache warmed
	sessions := session.NewManager(dbManager)
	if err := sessions.LoadActiveSessions(context.Background()); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 3: Assignment rule engine loaded from persisted rules
	assignmentEngine := rules.NewEngine()
	assignmentRules, err := dbManager.ListActiveRules(context.Background(), types.RuleKindAssignment)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load assignment rules: %w", err)
	}
	if err := assignmentEngine.Load(assignmentRules); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load assignment rules: %w", err)
	}

	// STEP 4: Gateway state - connection registry, typing sets, liveness.
	// The heartbeat eviction handler closes over the hub variable assigned
	// below; eviction cannot fire before Start.
	registry := gateway.NewRegistry()
	typing := gateway.NewTypingTracker()
	var messageHub *hub.Hub
	heartbeat := gateway.NewHeartbeatMonitor(registry, cfg.Gateway.HeartbeatInterval, cfg.Gateway.MissedBeatLimit,
		func(conn *gateway.Connection) {
			if messageHub != nil {
				messageHub.Disconnect(conn)
			}
		})

	// STEP 5: Event publisher - AMQP mirror when enabled, noop otherwise
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQP.Enabled {
		publisher, err = events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		log.Printf("AMQP event mirror enabled: exchange=%s", cfg.AMQP.Exchange)
	}

	// STEP 6: Identity - token verifier and user directory
	verifier, err := auth.NewVerifier(cfg.Auth.Secret)
	if err != nil {
		publisher.Close()
		dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	var directory *auth.StaticDirectory
	if cfg.Auth.UsersFile != "" {
		directory, err = auth.NewStaticDirectory(cfg.Auth.UsersFile)
		if err != nil {
			publisher.Close()
			dbManager.Close()
			return nil, fmt.Errorf("failed to load user directory: %w", err)
		}
	} else {
		log.Println("WARNING: no users file configured, starting with an empty user directory")
		directory = auth.NewDirectoryFromUsers()
	}

	// STEP 7: Business services
	notifier := notify.NewDispatcher(registry, directory, publisher)
	assignments := assignment.NewService(dbManager, directory, notifier, assignmentEngine)
	escalations := escalation.NewService(dbManager, sessions, assignments, notifier)
	sweeper := escalation.NewSweeper(dbManager, sessions, assignments, notifier,
		cfg.Escalation.SweepSchedule, cfg.Escalation.StaleAge)
	handoffs := handoff.NewService(dbManager, sessions, assignments, directory, notifier)

	// STEP 8: Gateway hub and WebSocket handler
	var generator interfaces.Generator // no assistant backend wired yet
	messageHub = hub.NewHub(registry, typing, heartbeat, sessions, dbManager,
		escalations, notifier, directory, generator, cfg.Gateway)
	wsHandler := hub.NewHandler(messageHub, registry, verifier, directory, cfg.Gateway)

	// STEP 9: HTTP surface - REST API, health and the WebSocket endpoint
	apiServer := api.NewServer(sessions, dbManager, registry, escalations, handoffs, notifier)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		sessions:   sessions,
		registry:   registry,
		heartbeat:  heartbeat,
		publisher:  publisher,
		sweeper:    sweeper,
		directory:  directory,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution. Background workers start first so the
// HTTP server never accepts a connection without liveness tracking behind it.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting livedesk application on %s", app.httpServer.Addr)

	// STEP 1: Background workers - heartbeat sweeps and escalation sweeps
	app.heartbeat.Start()
	if err := app.sweeper.Start(); err != nil {
		app.heartbeat.Stop()
		return fmt.Errorf("failed to start escalation sweeper: %w", err)
	}

	// STEP 2: HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.sweeper.Stop()
		app.heartbeat.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("livedesk application started successfully")
		return nil
	case <-ctx.Done():
		app.sweeper.Stop()
		app.heartbeat.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application in reverse dependency order:
// HTTP → workers → connections → broker → database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down livedesk application")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Stop background workers
	app.sweeper.Stop()
	app.heartbeat.Stop()

	// STEP 3: Drop remaining WebSocket connections
	app.registry.CloseAll()

	// STEP 4: Close the broker mirror
	if err := app.publisher.Close(); err != nil {
		log.Printf("Event publisher shutdown error: %v", err)
	}

	// STEP 5: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("livedesk application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
