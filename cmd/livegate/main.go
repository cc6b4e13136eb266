package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/livegate/internal/apply"
	"github.com/sawpanic/livegate/internal/audit"
	"github.com/sawpanic/livegate/internal/breaker"
	"github.com/sawpanic/livegate/internal/canary"
	"github.com/sawpanic/livegate/internal/config"
	"github.com/sawpanic/livegate/internal/evidence"
	"github.com/sawpanic/livegate/internal/exchange"
	"github.com/sawpanic/livegate/internal/guardrail"
	"github.com/sawpanic/livegate/internal/idempotency"
	gatehttp "github.com/sawpanic/livegate/internal/interfaces/http"
	"github.com/sawpanic/livegate/internal/metrics"
)

const version = "v1.0.0"

var (
	configPath string
	logPretty  bool
	runDryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "livegate",
	Short: "Admission control for shadow-to-live trading promotion",
	Long: `livegate gates the transition from simulated trading to real order
execution: guardrail policy, canary evidence gates, live-apply authorization
with idempotency and circuit breaking, and an instrumented exchange adapter.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = time.RFC3339
		if logPretty {
			zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live-gate HTTP server",
	RunE:  runServe,
}

var canaryCmd = &cobra.Command{
	Use:   "canary",
	Short: "Canary evidence operations",
}

var canaryRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one canary run locally and print the decision",
	RunE:  runCanary,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current gate status from the latest evidence",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to livegate YAML config")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable log output")
	canaryRunCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Use simulated gate observations")

	rootCmd.AddCommand(serveCmd)
	canaryCmd.AddCommand(canaryRunCmd)
	rootCmd.AddCommand(canaryCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type components struct {
	settings   config.Settings
	holder     *guardrail.Holder
	controller *apply.Controller
	handlers   *gatehttp.Handlers
	metrics    *metrics.Metrics
}

func buildComponents() (*components, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	holder := guardrail.NewHolder(settings)
	m := metrics.New()

	var store evidence.Store
	if settings.Redis.Enabled {
		store = evidence.NewRedisStore(redis.NewClient(&redis.Options{Addr: settings.Redis.Addr}))
		zlog.Info().Str("addr", settings.Redis.Addr).Msg("Using Redis evidence store")
	} else {
		store = evidence.NewFSStore(settings.EvidenceRoot)
	}

	var auditStore audit.Store
	if settings.PostgresDSN != "" {
		pg, err := audit.NewPostgresStore(settings.PostgresDSN, 5*time.Second)
		if err != nil {
			return nil, err
		}
		auditStore = pg
		zlog.Info().Msg("Using Postgres audit store")
	} else {
		auditStore = audit.NewMemoryStore()
	}

	var placer exchange.Placer
	if settings.Exchange.LiveEnabled && settings.Exchange.BaseURL != "" {
		placer = exchange.NewRESTAdapter(settings.Exchange, settings.ClockDriftMaxMs,
			string(settings.Mode), auditStore)
	} else {
		placer = exchange.NewSimulatedPlacer(settings.Exchange.QtyScale, settings.Exchange.MinQty)
	}

	idem := idempotency.NewStore()
	brk := breaker.New(settings.Breaker.WindowSec, settings.Breaker.MaxPerWindow)

	controller := &apply.Controller{
		Holder:   holder,
		Evidence: store,
		Idem:     idem,
		Breaker:  brk,
		Placer:   placer,
		Metrics:  m,
		Audit:    auditStore,
		Sampler:  &apply.AuditSampler{Audit: auditStore},
	}

	handlers := &gatehttp.Handlers{
		Controller: controller,
		Holder:     holder,
		Audit:      auditStore,
		Idem:       idem,
		Breaker:    brk,
		Version:    version,
	}

	return &components{
		settings:   settings,
		holder:     holder,
		controller: controller,
		handlers:   handlers,
		metrics:    m,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}

	server, err := gatehttp.NewServer(c.settings.Server, c.handlers, c.metrics)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zlog.Info().Str("signal", sig.String()).Msg("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func runCanary(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.controller.CanaryRun(ctx, runDryRun)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}

	status := map[string]any{
		"mode":       c.settings.Mode,
		"killSwitch": c.settings.KillSwitch,
		"liveSymbol": c.settings.LiveSymbol,
		"thresholds": canary.DefaultThresholds(),
	}

	nonce, ok := c.controller.Evidence.LatestNonce()
	if ok {
		status["latestNonce"] = nonce

		th := canary.DefaultThresholds()
		var plan canary.PlanArtifact
		if c.controller.Evidence.Read(nonce, evidence.KindPlan, &plan) {
			th = canary.Normalize(plan.Thresholds)
			status["thresholds"] = th
		}
		var lat canary.LatencyArtifact
		c.controller.Evidence.Read(nonce, evidence.KindLatency, &lat)
		status["gates"] = canary.Evaluate(lat.Metrics, th).WithKillSwitch(c.settings.KillSwitch)
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
