package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Config holds server configuration settings
type Config struct {
	Host           string        `validate:"required"`        // Server host address
	Port           int           `validate:"min=0,max=65535"` // Server port; 0 picks a free port
	DatabaseName   string        `validate:"required"`        // Name reported in change events
	ReadTimeout    time.Duration `validate:"gte=0"`           // HTTP read timeout
	WriteTimeout   time.Duration `validate:"gte=0"`           // HTTP write timeout; 0 for long-lived change streams
	IdleTimeout    time.Duration `validate:"gte=0"`           // HTTP idle timeout
	RequestTimeout time.Duration `validate:"gte=0"`           // Per-request handler timeout
	MaxRequestSize int64         `validate:"gt=0"`            // Maximum request body size in bytes
	EnableCORS     bool          // Enable CORS middleware
	AllowedOrigins []string      // CORS allowed origins
	AllowedMethods []string      // CORS allowed methods
	AllowedHeaders []string      // CORS allowed headers
	EnableLogging  bool          // Enable request logging

	// TLS/SSL configuration
	EnableTLS   bool   // Enable TLS/SSL
	TLSCertFile string `validate:"required_if=EnableTLS true"` // Path to TLS certificate file
	TLSKeyFile  string `validate:"required_if=EnableTLS true"` // Path to TLS private key file

	// AuditLog is a file that state-changing requests are appended to
	AuditLog string

	// GraphQL configuration
	EnableGraphQL bool // Enable GraphQL API endpoint

	// API keys, as produced by auth.HashAPIKey. With neither set the API
	// is open.
	AdminKeyHash string
	ReadKeyHash  string

	// Change streams
	ChangeHistorySize int           `validate:"gte=0"` // Events retained for resuming
	HeartbeatInterval time.Duration `validate:"gte=0"` // WebSocket heartbeat interval
	NATSURL           string        // Publish change events to NATS when set
	NATSSubjectPrefix string        // Subject prefix for published events

	// Scheduled exports
	ExportSchedule string `validate:"required_with=ExportDir"` // Cron spec, e.g. "@every 1h"
	ExportDir      string `validate:"required_with=ExportSchedule"`
	ExportCodec    string `validate:"omitempty,oneof=none snappy zstd"`

	// Catalog
	ValidateCatalog bool          // Validate inserts into catalog collections
	SeedCatalog     bool          // Load the sample catalog at startup
	CursorTimeout   time.Duration `validate:"gte=0"` // Idle timeout of server-side cursors
	ReportCacheSize int           `validate:"gte=0"` // Cached catalog report results, 0 disables
	ReportCacheTTL  time.Duration `validate:"gte=0"` // Upper bound on a cached result's age
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              8080,
		DatabaseName:      "streamhub",
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket change streams outlive any write deadline
		IdleTimeout:       120 * time.Second,
		RequestTimeout:    60 * time.Second,
		MaxRequestSize:    10 * 1024 * 1024, // 10MB
		EnableCORS:        true,
		AllowedOrigins:    []string{"*"},
		AllowedMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:    []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		EnableLogging:     true,
		EnableGraphQL:     false, // GraphQL disabled by default (opt-in feature)
		ChangeHistorySize: 1000,
		HeartbeatInterval: 30 * time.Second,
		NATSSubjectPrefix: "streamhub.changes",
		ExportCodec:       "zstd",
		ValidateCatalog:   true,
		CursorTimeout:     10 * time.Minute,
		ReportCacheSize:   64,
		ReportCacheTTL:    5 * time.Minute,
	}
}

var configValidator = validator.New()

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ExportSchedule != "" {
		if _, err := cron.ParseStandard(c.ExportSchedule); err != nil {
			return fmt.Errorf("invalid config: export schedule %q: %w", c.ExportSchedule, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with STREAMHUB_* environment variables
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("STREAMHUB_HOST", &c.Host)
	integer("STREAMHUB_PORT", &c.Port)
	str("STREAMHUB_DATABASE", &c.DatabaseName)
	str("STREAMHUB_TLS_CERT", &c.TLSCertFile)
	str("STREAMHUB_TLS_KEY", &c.TLSKeyFile)
	boolean("STREAMHUB_TLS", &c.EnableTLS)
	boolean("STREAMHUB_GRAPHQL", &c.EnableGraphQL)
	str("STREAMHUB_API_KEY_HASH", &c.AdminKeyHash)
	str("STREAMHUB_READ_KEY_HASH", &c.ReadKeyHash)
	str("STREAMHUB_AUDIT_LOG", &c.AuditLog)
	str("STREAMHUB_NATS_URL", &c.NATSURL)
	str("STREAMHUB_NATS_SUBJECT_PREFIX", &c.NATSSubjectPrefix)
	str("STREAMHUB_EXPORT_SCHEDULE", &c.ExportSchedule)
	str("STREAMHUB_EXPORT_DIR", &c.ExportDir)
	str("STREAMHUB_EXPORT_CODEC", &c.ExportCodec)
	boolean("STREAMHUB_VALIDATE_CATALOG", &c.ValidateCatalog)
	boolean("STREAMHUB_SEED_CATALOG", &c.SeedCatalog)
	duration("STREAMHUB_HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	duration("STREAMHUB_CURSOR_TIMEOUT", &c.CursorTimeout)
	integer("STREAMHUB_REPORT_CACHE_SIZE", &c.ReportCacheSize)
	duration("STREAMHUB_REPORT_CACHE_TTL", &c.ReportCacheTTL)
	if v, ok := lookup("STREAMHUB_CORS_ORIGINS"); ok {
		c.AllowedOrigins = strings.Split(v, ",")
	}

	return errors.Join(errs...)
}
