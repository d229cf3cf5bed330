/*
main.go - Server entry point

PURPOSE:
  Wires the SQLite store, treasury, registries, blob storage and both case
  engines into the HTTP server.

CONFIGURATION:
  Flags:  -port, -db
  Env:    JWT_SIGNING_KEY (required outside dev)
          MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_BUCKET
          (optional; in-memory blob storage is used when unset)
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openpcr/caseflow/api"
	"github.com/openpcr/caseflow/atrocity"
	"github.com/openpcr/caseflow/auth"
	"github.com/openpcr/caseflow/blob"
	"github.com/openpcr/caseflow/compensation"
	"github.com/openpcr/caseflow/marriage"
	"github.com/openpcr/caseflow/registry"
	"github.com/openpcr/caseflow/store/sqlite"
	"github.com/openpcr/caseflow/treasury"
	"github.com/openpcr/caseflow/workflow"
)

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	dbPath := flag.String("db", "./caseflow.db", "SQLite database path")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := run(log, *port, *dbPath); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(log zerolog.Logger, port int, dbPath string) error {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	funds := treasury.NewLedger(store, log)

	atrocityEngine, err := workflow.NewEngine(
		atrocity.NewDefinition(compensation.Default()),
		store,
		workflow.WithTreasury(funds),
		workflow.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("building atrocity engine: %w", err)
	}
	marriageEngine, err := workflow.NewEngine(
		marriage.NewDefinition(),
		store,
		workflow.WithTreasury(funds),
		workflow.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("building marriage engine: %w", err)
	}

	// External registers. The memory fake serves until the real register
	// clients are configured for a deployment.
	lookup := registry.NewMemory()

	blobs, err := buildBlobStore(log)
	if err != nil {
		return fmt.Errorf("building blob store: %w", err)
	}

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "dev-only-signing-key"
		log.Warn().Msg("JWT_SIGNING_KEY not set; using insecure dev key")
	}

	server := api.NewServer(api.Config{
		Atrocity: atrocity.NewService(atrocityEngine, lookup),
		Marriage: marriage.NewService(marriageEngine, store, lookup),
		Treasury: funds,
		Blobs:    blobs,
		Auth:     auth.NewJWT([]byte(signingKey), "caseflow", 12*time.Hour),
		Logger:   log,
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	log.Info().Str("addr", addr).Str("db", dbPath).Msg("listening")
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildBlobStore(log zerolog.Logger) (blob.Store, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		log.Warn().Msg("MINIO_ENDPOINT not set; using in-memory blob storage")
		return blob.NewMemory(), nil
	}
	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "caseflow"
	}
	return blob.NewMinio(context.Background(), blob.MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    bucket,
	})
}
