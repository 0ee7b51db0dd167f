package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mnohosten/streamhub/pkg/auth"
	"github.com/mnohosten/streamhub/pkg/server"
)

func main() {
	// Parse command-line flags
	envFile := flag.String("env-file", ".env", "Environment file with STREAMHUB_* settings")
	host := flag.String("host", "", "Server host address")
	port := flag.Int("port", 0, "Server port")
	dbName := flag.String("db", "", "Database name reported in change events")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origins, comma-separated")
	enableTLS := flag.Bool("tls", false, "Enable TLS/SSL")
	tlsCert := flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "Path to TLS private key file")
	generateCert := flag.Bool("generate-cert", false, "Write a self-signed certificate to -tls-cert and -tls-key, then exit")
	enableGraphQL := flag.Bool("graphql", false, "Enable GraphQL API endpoint (/graphql) and GraphiQL playground (/graphiql)")
	seed := flag.Bool("seed", false, "Load the sample media catalog at startup")
	natsURL := flag.String("nats", "", "Publish change events to this NATS server")
	exportSchedule := flag.String("export-schedule", "", "Cron schedule for database dumps, e.g. \"@every 1h\"")
	exportDir := flag.String("export-dir", "", "Directory for scheduled dumps")
	hashKey := flag.String("hash-key", "", "Print the hash of an API key for STREAMHUB_API_KEY_HASH, then exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if *generateCert {
		if *tlsCert == "" || *tlsKey == "" {
			fmt.Fprintln(os.Stderr, "❌ -generate-cert requires -tls-cert and -tls-key")
			os.Exit(1)
		}
		hosts := []string{"localhost"}
		if *host != "" && *host != "0.0.0.0" && *host != "localhost" {
			hosts = append([]string{*host}, hosts...)
		}
		if err := server.GenerateSelfSignedCert(*tlsCert, *tlsKey, hosts...); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to generate certificate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("📜 Wrote %s and %s\n", *tlsCert, *tlsKey)
		return
	}

	// A missing env file is fine; settings then come from the environment
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "❌ Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Defaults, then environment, then flags
	config := server.DefaultConfig()
	if err := config.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid environment: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			config.Host = *host
		case "port":
			config.Port = *port
		case "db":
			config.DatabaseName = *dbName
		case "cors-origin":
			config.AllowedOrigins = strings.Split(*corsOrigin, ",")
		case "tls":
			config.EnableTLS = *enableTLS
		case "tls-cert":
			config.TLSCertFile = *tlsCert
		case "tls-key":
			config.TLSKeyFile = *tlsKey
		case "graphql":
			config.EnableGraphQL = *enableGraphQL
		case "seed":
			config.SeedCatalog = *seed
		case "nats":
			config.NATSURL = *natsURL
		case "export-schedule":
			config.ExportSchedule = *exportSchedule
		case "export-dir":
			config.ExportDir = *exportDir
		}
	})

	// Create and start server
	started := time.Now()
	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create server: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("⏱️  Ready in %v\n", time.Since(started).Round(time.Millisecond))

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
