package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filigran/xtm-composer/pkg/config"
	"github.com/filigran/xtm-composer/pkg/errs"
	"github.com/filigran/xtm-composer/pkg/identity"
	"github.com/filigran/xtm-composer/pkg/log"
	"github.com/filigran/xtm-composer/pkg/metrics"
	"github.com/filigran/xtm-composer/pkg/orchestrator"
	"github.com/filigran/xtm-composer/pkg/orchestrator/docker"
	"github.com/filigran/xtm-composer/pkg/orchestrator/kubernetes"
	"github.com/filigran/xtm-composer/pkg/orchestrator/portainer"
	"github.com/filigran/xtm-composer/pkg/pipeline"
	"github.com/filigran/xtm-composer/pkg/platform"
	"github.com/filigran/xtm-composer/pkg/reconciler"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	exitOK = iota
	exitConfigError
	exitPlatformUnreachable
	exitOrchestratorUnreachable
)

const shutdownDrain = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFromError(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "composer",
	Short:   "Composer - connector orchestration agent for the threat-intelligence platform",
	Long:    `Composer bridges the platform and a container orchestrator (Kubernetes, Docker, or Portainer), reconciling managed connectors onto running workloads.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"composer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.Flags().String("config", "", "path to config file (defaults to $COMPOSER_CONFIG)")
	rootCmd.Flags().String("metrics-addr", ":9090", "address to serve /metrics and /healthz on")
}

func run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logger.Level),
		JSONOutput: cfg.Logger.JSON,
	})

	logger := log.WithManagerID(cfg.Manager.ID)
	logger.Info().Str("env", config.Env()).Msg("starting composer")

	id, err := identity.LoadOrGenerate(cfg.Manager.IdentityDir)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	platformClient := platform.NewHTTPClient(cfg.OpenCTI.URL, cfg.OpenCTI.Token)

	if err := platformClient.Register(ctx, cfg.Manager.ID, cfg.Manager.Name, id.PublicKeyPEM()); err != nil {
		return &exitError{code: exitPlatformUnreachable, err: err}
	}
	if err := platformClient.Ping(ctx, cfg.Manager.ID); err != nil {
		return &exitError{code: exitPlatformUnreachable, err: err}
	}

	orch, err := buildOrchestrator(cfg)
	if err != nil {
		return &exitError{code: exitOrchestratorUnreachable, err: err}
	}
	if _, err := orch.List(ctx); err != nil {
		return &exitError{code: exitOrchestratorUnreachable, err: err}
	}

	pipe := pipeline.New(platformClient, orch, cfg.Manager.LogBatchSize)
	recon := reconciler.New(platformClient, orch, pipe, id.PrivateKey, cfg.Manager.ID, registryURL(cfg), cfg.Manager.ReconcileInterval)
	recon.Start()
	logger.Info().Msg("reconciler started")

	heartbeatStop := startHeartbeat(ctx, platformClient, cfg.Manager.ID, cfg.Manager.HeartbeatInterval)

	httpServer := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server failed")
	}

	close(heartbeatStop)
	recon.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	_ = httpServer.Shutdown(drainCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

func buildOrchestrator(cfg *config.Config) (orchestrator.Orchestrator, error) {
	daemon := cfg.OpenCTI.Daemon

	switch daemon.Type {
	case config.DaemonKubernetes:
		return kubernetes.New(kubernetes.Config{
			Namespace:      daemon.Kubernetes.Namespace,
			KubeconfigPath: daemon.Kubernetes.KubeconfigPath,
			InCluster:      daemon.Kubernetes.InCluster,
			ManagerID:      cfg.Manager.ID,
		})

	case config.DaemonDocker:
		socket := daemon.Docker.Socket
		if socket == "" {
			socket = docker.DefaultSocketPath
		} else {
			socket = "unix://" + socket
		}
		return docker.New(socket, cfg.Manager.ID)

	case config.DaemonPortainer:
		endpointID, err := strconv.Atoi(daemon.Portainer.EndpointID)
		if err != nil {
			return nil, &errs.ConfigError{Field: "opencti.daemon.portainer.endpoint_id", Message: err.Error()}
		}
		return portainer.New(portainer.Config{
			URL:        daemon.Portainer.URL,
			APIKey:     daemon.Portainer.APIKey,
			EndpointID: endpointID,
			ManagerID:  cfg.Manager.ID,
		})

	default:
		return nil, &errs.ConfigError{Field: "opencti.daemon.type", Message: "unknown daemon type " + string(daemon.Type)}
	}
}

func registryURL(cfg *config.Config) string {
	switch cfg.OpenCTI.Daemon.Type {
	case config.DaemonDocker:
		return cfg.OpenCTI.Daemon.Docker.Registry.URL
	case config.DaemonPortainer:
		return cfg.OpenCTI.Daemon.Portainer.Registry.URL
	default:
		return ""
	}
}

func startHeartbeat(ctx context.Context, client platform.Client, managerID string, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		logger := log.WithComponent("heartbeat")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := client.Ping(ctx, managerID); err != nil {
					logger.Warn().Err(err).Msg("heartbeat ping failed")
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// exitError carries the process exit code a failure at startup maps to.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitFromError(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitConfigError
}
