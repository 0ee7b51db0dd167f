package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mnohosten/streamhub/pkg/audit"
	"github.com/mnohosten/streamhub/pkg/auth"
	"github.com/mnohosten/streamhub/pkg/cache"
	"github.com/mnohosten/streamhub/pkg/catalog"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
	gql "github.com/mnohosten/streamhub/pkg/graphql"
	"github.com/mnohosten/streamhub/pkg/impex"
	"github.com/mnohosten/streamhub/pkg/metrics"
	"github.com/mnohosten/streamhub/pkg/server/handlers"
)

// Server represents the HTTP server for StreamHub
type Server struct {
	config              *Config
	db                  *database.Database
	hub                 *changestream.Hub
	router              *chi.Mux
	httpSrv             *http.Server
	startTime           time.Time
	metricsCollector    *metrics.MetricsCollector
	promExporter        *metrics.PrometheusExporter
	changeStreamManager *handlers.ChangeStreamManager
	keys                *auth.KeyStore
	scheduler           *ExportScheduler
	reportCache         *cache.ResultCache
	auditLog            *audit.Logger
}

// New creates a new HTTP server instance
func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if config.EnableTLS {
		var err error
		if tlsConfig, err = loadTLSConfig(config); err != nil {
			return nil, err
		}
	}

	keys, err := loadKeys(config)
	if err != nil {
		return nil, err
	}

	// Open database
	dbConfig := database.DefaultConfig()
	dbConfig.Name = config.DatabaseName
	db, err := database.Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	hub := changestream.NewHub(db, &changestream.HubOptions{HistorySize: config.ChangeHistorySize})
	if config.NATSURL != "" {
		sink, err := changestream.ConnectNATS(config.NATSURL, config.NATSSubjectPrefix)
		if err != nil {
			hub.Close()
			db.Close()
			return nil, err
		}
		hub.AddSink(sink)
	}

	metricsCollector := metrics.NewMetricsCollector()

	srv := &Server{
		config:              config,
		db:                  db,
		hub:                 hub,
		router:              chi.NewRouter(),
		startTime:           time.Now(),
		metricsCollector:    metricsCollector,
		promExporter:        metrics.NewPrometheusExporter(metricsCollector),
		changeStreamManager: handlers.NewChangeStreamManager(hub, config.HeartbeatInterval),
		keys:                keys,
	}
	if config.ReportCacheSize > 0 {
		srv.reportCache = cache.New(config.ReportCacheSize, config.ReportCacheTTL)
	}
	if config.AuditLog != "" {
		if srv.auditLog, err = audit.Open(config.AuditLog); err != nil {
			srv.closeResources()
			return nil, err
		}
	}
	srv.registerGauges()

	if config.ExportSchedule != "" {
		codec, err := impex.ParseCodec(config.ExportCodec)
		if err != nil {
			srv.closeResources()
			return nil, err
		}
		options := impex.DefaultExportOptions()
		options.Codec = codec
		srv.scheduler, err = NewExportScheduler(db, config.ExportSchedule, config.ExportDir, options)
		if err != nil {
			srv.closeResources()
			return nil, err
		}
	}

	if config.SeedCatalog {
		result, err := catalog.Seed(context.Background(), db)
		if err != nil {
			srv.closeResources()
			return nil, fmt.Errorf("failed to seed catalog: %w", err)
		}
		log.Printf("Seeded catalog: %v documents, %d indexes", result.Inserted, result.Indexes)
	}

	// Setup middleware
	srv.setupMiddleware()

	// Setup routes
	if err := srv.setupRoutes(); err != nil {
		srv.closeResources()
		return nil, err
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	return srv, nil
}

// auditAction audits every request that needs more than read access
func auditAction(r *http.Request) (string, bool) {
	switch p := auth.PermissionForRequest(r); p {
	case auth.PermissionRead, auth.PermissionViewStats:
		return "", false
	default:
		return string(p), true
	}
}

func auditPrincipal(r *http.Request) string {
	if key, ok := auth.GetAPIKey(r); ok {
		return key.Name
	}
	return ""
}

// loadKeys builds the key store from the configured hashes. It returns nil
// when no keys are configured.
func loadKeys(config *Config) (*auth.KeyStore, error) {
	if config.AdminKeyHash == "" && config.ReadKeyHash == "" {
		return nil, nil
	}
	keys := auth.NewKeyStore()
	if config.AdminKeyHash != "" {
		if err := keys.AddHashed("admin", config.AdminKeyHash, auth.RoleAdmin); err != nil {
			return nil, fmt.Errorf("admin key: %w", err)
		}
	}
	if config.ReadKeyHash != "" {
		if err := keys.AddHashed("read", config.ReadKeyHash, auth.RoleRead); err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
	}
	return keys, nil
}

func (s *Server) registerGauges() {
	s.promExporter.AddGauge("change_streams", "Open change streams", func() float64 {
		return float64(s.hub.StreamCount())
	})
	s.promExporter.AddGauge("websocket_connections", "Open WebSocket change stream connections", func() float64 {
		return float64(s.changeStreamManager.Count())
	})
	s.promExporter.AddGauge("collections", "Number of collections", func() float64 {
		return float64(len(s.db.ListCollections()))
	})
	if s.auditLog != nil {
		s.promExporter.AddGauge("audit_events", "Requests written to the audit log", func() float64 {
			return float64(s.auditLog.Count())
		})
	}
	if s.reportCache != nil {
		s.promExporter.AddGauge("report_cache_entries", "Cached catalog report results", func() float64 {
			return float64(s.reportCache.Len())
		})
	}
	s.promExporter.AddGauge("change_events_sequence", "Sequence number of the latest change event", func() float64 {
		return float64(s.hub.CurrentToken().Seq)
	})
}

// setupMiddleware configures HTTP middleware stack
func (s *Server) setupMiddleware() {
	// Request ID middleware
	s.router.Use(middleware.RequestID)

	// Real IP middleware
	s.router.Use(middleware.RealIP)

	// Recovery middleware to recover from panics
	s.router.Use(middleware.Recoverer)

	// Request logging
	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}

	// CORS middleware
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() error {
	h := handlers.New(s.db, s.hub, s.metricsCollector, handlers.Options{
		ValidateCatalog: s.config.ValidateCatalog,
		CursorTimeout:   s.config.CursorTimeout,
		ReportCache:     s.reportCache,
	})

	// Health stays open for probes
	s.router.Get("/_health", s.jsonContentType(h.Health(s.startTime)))

	var graphqlHandler *gql.Handler
	if s.config.EnableGraphQL {
		var err error
		graphqlHandler, err = gql.NewHandler(s.db, s.hub)
		if err != nil {
			return fmt.Errorf("failed to setup GraphQL routes: %w", err)
		}
		s.router.Get("/graphiql", gql.GraphiQLHandler())
	}

	s.router.Group(func(r chi.Router) {
		if s.keys != nil {
			r.Use(s.keys.Middleware(auth.PermissionForRequest))
		}
		if s.auditLog != nil {
			r.Use(s.auditLog.Middleware(auditAction, auditPrincipal))
		}

		// Change streams are long-lived, so they skip the size limit and
		// request timeout
		r.Get("/_ws/watch", h.HandleChangeStream(s.changeStreamManager))

		r.Group(func(r chi.Router) {
			r.Use(s.requestSizeLimitMiddleware)
			if s.config.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
			}

			r.Get("/_stats", s.jsonContentType(h.GetDatabaseStats))
			r.Get("/_collections", s.jsonContentType(h.ListCollections))
			r.Get("/_metrics", s.handlePrometheusMetrics)
			r.Get("/_exports", s.handleExportStatus)

			// Cursor API endpoints
			r.Post("/_cursors", s.jsonContentType(h.CreateCursor))
			r.Get("/_cursors/{cursorId}/batch", s.jsonContentType(h.FetchBatch))
			r.Delete("/_cursors/{cursorId}", s.jsonContentType(h.CloseCursor))

			// Whole-database dumps
			r.Get("/_export", h.ExportDump)
			r.Post("/_import", s.jsonContentType(h.ImportDump))

			// Media catalog
			r.Post("/_catalog/seed", s.jsonContentType(h.SeedCatalog))
			r.Get("/_catalog/operations", s.jsonContentType(h.ListOperations))
			r.Post("/_catalog/operations/{name}", s.jsonContentType(h.RunOperation))

			if graphqlHandler != nil {
				r.Handle("/graphql", graphqlHandler)
			}

			// Collection routes
			r.Route("/{collection}", func(r chi.Router) {
				// Collection management
				r.Group(func(r chi.Router) {
					r.Use(middleware.SetHeader("Content-Type", "application/json"))

					r.Put("/", h.CreateCollection)
					r.Delete("/", h.DropCollection)
					r.Get("/_stats", h.GetCollectionStats)

					// Document operations
					r.Post("/_doc", h.InsertDocument)
					r.Post("/_doc/{id}", h.InsertDocumentWithID)
					r.Get("/_doc/{id}", h.GetDocument)
					r.Put("/_doc/{id}", h.UpdateDocument)
					r.Delete("/_doc/{id}", h.DeleteDocument)

					// Bulk operations
					r.Post("/_bulk", h.BulkInsert)
					r.Post("/_bulkWrite", h.BulkWrite)

					// Query operations
					r.Post("/_search", h.SearchDocuments)
					r.Get("/_count", h.CountDocuments)
					r.Post("/_count", h.CountDocumentsWithFilter)
					r.Post("/_update", h.UpdateOne)
					r.Post("/_updateMany", h.UpdateMany)
					r.Post("/_delete", h.DeleteMany)
					r.Post("/_explain", h.Explain)

					// Aggregation
					r.Post("/_aggregate", h.Aggregate)

					// Index management
					r.Post("/_index", h.CreateIndex)
					r.Get("/_index", h.ListIndexes)
					r.Delete("/_index/{name}", h.DropIndex)

					// Catalog validation
					r.Post("/_validate", h.ValidateDocument)

					r.Post("/_import", h.ImportCollection)
				})

				// Export sets its own content type
				r.Get("/_export", h.ExportCollection)
			})
		})
	})
	return nil
}

// jsonContentType middleware wraps a handler to set JSON content type
func (s *Server) jsonContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
			if requested := r.Header.Get("Origin"); requested != "" {
				for _, allowed := range s.config.AllowedOrigins {
					if allowed == requested {
						origin = requested
						break
					}
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.config.AllowedMethods, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.config.AllowedHeaders, ", "))
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// handlePrometheusMetrics handles the Prometheus metrics endpoint
func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	// Set Prometheus text format content type
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	if err := s.promExporter.WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("Error writing metrics: %v", err), http.StatusInternalServerError)
		return
	}
}

// handleExportStatus reports the export schedule and its last run
func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"scheduled": s.scheduler != nil}
	if s.scheduler != nil {
		status["schedule"] = s.config.ExportSchedule
		status["directory"] = s.config.ExportDir
		status["next"] = s.scheduler.Next()
		if last := s.scheduler.Last(); last != nil {
			status["last"] = last
		}
	}
	WriteSuccess(w, status)
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	protocol := "http"
	wsProtocol := "ws"
	if s.config.EnableTLS {
		protocol = "https"
		wsProtocol = "wss"
		fmt.Printf("🔒 TLS/SSL enabled\n")
		fmt.Printf("📜 Certificate: %s\n", s.config.TLSCertFile)
	}
	fmt.Printf("🚀 StreamHub server starting on %s://%s:%d\n", protocol, s.config.Host, s.config.Port)
	fmt.Printf("🗄️  Database: %s\n", s.config.DatabaseName)
	fmt.Printf("🔌 WebSocket endpoint: %s://%s:%d/_ws/watch\n", wsProtocol, s.config.Host, s.config.Port)
	if s.keys != nil {
		fmt.Printf("🔑 API key authentication enabled (%d keys)\n", s.keys.Len())
	}
	if s.config.EnableGraphQL {
		fmt.Printf("📊 GraphQL endpoint: /graphql, playground: /graphiql\n")
	}
	if s.config.NATSURL != "" {
		fmt.Printf("📡 Publishing change events to %s\n", s.config.NATSURL)
	}
	if s.scheduler != nil {
		s.scheduler.Start()
		fmt.Printf("💾 Exporting to %s on schedule %q\n", s.config.ExportDir, s.config.ExportSchedule)
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpSrv.ListenAndServeTLS("", "")
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		fmt.Printf("\n⚠️  Received signal: %v\n", sig)
		return s.Shutdown()
	}
}

// GetDatabase returns the database instance
func (s *Server) GetDatabase() *database.Database {
	return s.db
}

// GetHub returns the change stream hub
func (s *Server) GetHub() *changestream.Hub {
	return s.hub
}

// GetMetricsCollector returns the metrics collector
func (s *Server) GetMetricsCollector() *metrics.MetricsCollector {
	return s.metricsCollector
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	fmt.Println("🛑 Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		fmt.Printf("❌ Server shutdown error: %v\n", err)
	}

	if err := s.closeResources(); err != nil {
		fmt.Printf("❌ Database close error: %v\n", err)
		return err
	}

	fmt.Println("✅ Server shutdown complete")
	return nil
}

// closeResources releases everything New acquired, last to first
func (s *Server) closeResources() error {
	if s.changeStreamManager != nil {
		if err := s.changeStreamManager.Close(); err != nil {
			fmt.Printf("⚠️  Warning: Error closing change stream manager: %v\n", err)
		}
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			fmt.Printf("⚠️  Warning: Error closing audit log: %v\n", err)
		}
	}
	if err := s.hub.Close(); err != nil {
		fmt.Printf("⚠️  Warning: Error closing change stream hub: %v\n", err)
	}
	return s.db.Close()
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// WriteSuccess writes a success response
func WriteSuccess(w http.ResponseWriter, result interface{}) {
	response := map[string]interface{}{
		"ok":     true,
		"result": result,
	}
	WriteJSON(w, http.StatusOK, response)
}
