package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ransomeye/core/pkg/adminapi"
	"github.com/ransomeye/core/pkg/artifacts"
	"github.com/ransomeye/core/pkg/config"
	"github.com/ransomeye/core/pkg/identity"
	"github.com/ransomeye/core/pkg/ingest"
	"github.com/ransomeye/core/pkg/orchestrator"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out without binding
// real listeners.
var startServer = runServer

// Run is the CLI entrypoint, kept separate from main so tests can drive
// it with a fake argv and capture stdout/stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, os.Getenv("VERSION"))
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if len(args[1]) > 0 && args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ransomeyectl <command>")
	fmt.Fprintln(w, "  server   run the orchestrated fabric (default)")
	fmt.Fprintln(w, "  doctor   validate environment and exit without starting services")
	fmt.Fprintln(w, "  health   check a running instance's admin health endpoint")
	fmt.Fprintln(w, "  version  print the build version")
	fmt.Fprintln(w, "  help     show this message")
}

// runServer loads configuration, brings the orchestrator through its
// full startup sequence, serves ingestion and the admin control
// surface, and blocks until SIGINT/SIGTERM, at which point it shuts
// down in reverse order. Exit code 1 on any fatal startup error, 0 on
// a clean shutdown.
func runServer(stdout, stderr io.Writer) int {
	log := slog.New(slog.NewJSONHandler(stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	signer, err := identity.LoadOrGenerateSigner(cfg.RootKeyPath, "ransomeye-core")
	if err != nil {
		fmt.Fprintf(stderr, "identity: %v\n", err)
		return 1
	}
	log.Info("component signing key ready", "public_key", signer.PublicKeyHex())

	ident := identity.NewComponentIdentity(identity.KindOrchestrator, "ransomeye-core", cfg.InstanceID, cfg.BuildHash, cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg, log, ident)
	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "orchestrator: %v\n", err)
		return 1
	}
	log.Info("orchestrator running", "component_id", ident.ComponentID)

	keys, err := adminapi.NewControlKeySet()
	if err != nil {
		fmt.Fprintf(stderr, "admin keys: %v\n", err)
		return 1
	}

	var archiver *artifacts.Exporter
	if store, archErr := artifacts.NewStoreFromEnv(ctx); archErr == nil {
		archiver = artifacts.NewExporter(store)
	} else {
		log.Warn("forensics export archival disabled", "reason", archErr)
	}

	ingestSrv := http.Server{
		Addr:    ":8443",
		Handler: ingest.NewServer(orch.DB(), orch.Trust(), log, orch.Observability()).Routes(),
	}
	adminSrv := http.Server{
		Addr:    ":8444",
		Handler: adminapi.NewServer(keys, orch.Teardown(), orch.Enforcer(), orch.Chain(), archiver, log).Routes(),
	}

	go func() {
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ingest server stopped", "error", err)
		}
	}()
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = ingestSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	if err := orch.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
		return 1
	}
	return 0
}

// runDoctorCmd validates the environment and exits without binding any
// listeners — useful in CI and in pre-flight checks before a real
// server start.
func runDoctorCmd(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if _, err := identity.LoadTrustDirectory(cfg.TrustStorePath); err != nil {
		fmt.Fprintf(stderr, "trust: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func runHealthCmd(stdout, stderr io.Writer) int {
	resp, err := http.Get("http://localhost:8444/admin/health")
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
