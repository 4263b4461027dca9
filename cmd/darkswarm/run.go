package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"darkages-swarm/applog"
	"darkages-swarm/budget"
	"darkages-swarm/config"
	"darkages-swarm/metrics"
	"darkages-swarm/movement"
	"darkages-swarm/probe"
	"darkages-swarm/swarm"
	"darkages-swarm/trace"
	"darkages-swarm/util"
)

var (
	runConfigPath     string
	runServerHost     string
	runServerPort     uint
	runMonitoringPort uint
	runBots           int
	runDuration       int
	runPattern        string
	runInputRate      int
	runBatchSize      int
	runBatchPause     time.Duration
	runAcceptance     float64
	runMetricsPort    uint
	runTraceFile      string
	runReportPath     string
	runLogLevel       int
	runLogPath        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one swarm load test against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			exitCode = exitInfrastructure
			return err
		}

		runID := uuid.NewString()
		if err := applog.Initialize(runID, cfg.Log.Level, cfg.Log.Path); err != nil {
			exitCode = exitInfrastructure
			return err
		}
		defer applog.Shutdown()
		applog.LogStartup(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		exitCode = runSwarm(ctx, cfg, runID)
		util.WrapAppContextCancelExitMessage(ctx, "darkswarm")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to a YAML run configuration")
	runCmd.Flags().StringVar(&runServerHost, "server", "127.0.0.1", "Game server host")
	runCmd.Flags().UintVar(&runServerPort, "port", 7777, "Game server UDP port")
	runCmd.Flags().UintVar(&runMonitoringPort, "monitoring-port", 8080, "Game server monitoring HTTP port")
	runCmd.Flags().IntVarP(&runBots, "bots", "n", 100, "Number of simulated clients")
	runCmd.Flags().IntVarP(&runDuration, "duration", "d", 30, "Run duration in seconds")
	runCmd.Flags().StringVar(&runPattern, "pattern", "", "Movement pattern for all bots (random|circle|linear|stationary); empty rotates through all")
	runCmd.Flags().IntVar(&runInputRate, "input-rate", 60, "Input packets per second per bot")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 100, "Bots connected per batch")
	runCmd.Flags().DurationVar(&runBatchPause, "batch-pause", 500*time.Millisecond, "Pause between connection batches")
	runCmd.Flags().Float64Var(&runAcceptance, "acceptance", 0.95, "Minimum fraction of bots that must connect")
	runCmd.Flags().UintVar(&runMetricsPort, "metrics-port", 0, "Serve live swarm gauges on this port (0 disables)")
	runCmd.Flags().StringVar(&runTraceFile, "trace-file", "", "Write a compressed packet trace to this file")
	runCmd.Flags().StringVar(&runReportPath, "report", "swarm_report.json", "Report output file")
	runCmd.Flags().IntVar(&runLogLevel, "log-level", 0, "Log level (-1 debug, 0 info, 1 warn, 2 error)")
	runCmd.Flags().StringVar(&runLogPath, "log-path", "logs", "Directory for per-run log files")
}

// loadRunConfig reads the optional YAML file and lets explicitly set flags
// win over it.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server.Host = runServerHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = runServerPort
	}
	if flags.Changed("monitoring-port") {
		cfg.Server.MonitoringPort = runMonitoringPort
	}
	if flags.Changed("bots") {
		cfg.Swarm.Bots = runBots
	}
	if flags.Changed("duration") {
		cfg.Swarm.DurationSeconds = runDuration
	}
	if flags.Changed("pattern") {
		cfg.Swarm.Pattern = runPattern
	}
	if flags.Changed("input-rate") {
		cfg.Swarm.InputRateHz = runInputRate
	}
	if flags.Changed("batch-size") {
		cfg.Swarm.ConnectBatchSize = runBatchSize
	}
	if flags.Changed("batch-pause") {
		cfg.Swarm.ConnectBatchPauseMs = int(runBatchPause / time.Millisecond)
	}
	if flags.Changed("acceptance") {
		cfg.Swarm.AcceptanceRate = runAcceptance
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Port = runMetricsPort
	}
	if flags.Changed("trace-file") {
		cfg.Trace.File = runTraceFile
	}
	if flags.Changed("report") {
		cfg.Report = runReportPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = runLogLevel
	}
	if flags.Changed("log-path") {
		cfg.Log.Path = runLogPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runSwarm executes probe, swarm and validation, writes the report and maps
// the outcome to an exit code.
func runSwarm(ctx context.Context, cfg *config.Config, runID string) int {
	serverProbe := probe.New(cfg.Server.Host, cfg.Server.MonitoringPort)
	serverBefore := sampleServer(ctx, serverProbe, "before")

	var recorder *trace.Recorder
	if cfg.Trace.File != "" {
		var err error
		recorder, err = trace.NewRecorder(cfg.Trace.File)
		if err != nil {
			applog.Error("Opening packet trace failed", zap.Error(err))
			return exitInfrastructure
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				applog.Warn("Closing packet trace failed", zap.Error(err))
			}
		}()
	}

	var sink swarm.StatsSink
	if cfg.Metrics.Port != 0 {
		exporter := metrics.NewExporter()
		if err := exporter.Serve(cfg.Metrics.Port); err != nil {
			applog.Error("Starting metrics endpoint failed", zap.Error(err))
			return exitInfrastructure
		}
		defer exporter.Shutdown()
		sink = exporter
	}

	orchestrator, err := swarm.New(swarm.Config{
		RunID:             runID,
		ServerHost:        cfg.Server.Host,
		ServerPort:        cfg.Server.Port,
		BotCount:          cfg.Swarm.Bots,
		Duration:          time.Duration(cfg.Swarm.DurationSeconds) * time.Second,
		Pattern:           movement.Pattern(cfg.Swarm.Pattern),
		InputRateHz:       float64(cfg.Swarm.InputRateHz),
		ConnectBatchSize:  cfg.Swarm.ConnectBatchSize,
		ConnectBatchPause: cfg.Swarm.ConnectBatchPause(),
		AcceptanceRate:    cfg.Swarm.AcceptanceRate,
		Trace:             recorder,
		Stats:             sink,
	})
	if err != nil {
		applog.Error("Building swarm failed", zap.Error(err))
		return exitInfrastructure
	}

	result, runErr := orchestrator.Run(ctx)
	serverAfter := sampleServer(ctx, serverProbe, "after")

	thresholds := budget.Thresholds{
		MaxUpstreamBytesPerSec:   cfg.Budget.MaxUpstreamBytesPerSec,
		MaxDownstreamBytesPerSec: cfg.Budget.MaxDownstreamBytesPerSec,
		ExpectedSnapshotRateHz:   cfg.Budget.ExpectedSnapshotRateHz,
		MinSnapshotFraction:      cfg.Budget.MinSnapshotFraction,
	}
	verdict := budget.Evaluate(result, thresholds)

	if err := writeReport(cfg.Report, result, verdict, serverBefore, serverAfter); err != nil {
		applog.Error("Writing report failed", zap.Error(err))
	}

	var insufficient *swarm.InsufficientConnectionsError
	switch {
	case errors.Is(runErr, swarm.ErrNoConnections):
		applog.Error("No bots could connect", zap.String("server",
			fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
		return exitInfrastructure
	case errors.As(runErr, &insufficient):
		applog.Error("Connection rate below acceptance threshold",
			zap.Int("connected", insufficient.Connected),
			zap.Int("configured", insufficient.Configured),
			zap.Float64("required", insufficient.Required))
		return exitFailed
	case runErr != nil:
		applog.Error("Swarm run failed", zap.Error(runErr))
		return exitFailed
	}

	if !verdict.Passed {
		applog.Warn("Budget validation failed", zap.Strings("checks", verdict.FailedChecks()))
		return exitFailed
	}

	applog.Info("All budgets satisfied",
		zap.Int("connected", result.Connected),
		zap.Float64("avgUpstreamBps", verdict.UpstreamBps.Avg),
		zap.Float64("avgDownstreamBps", verdict.DownstrmBps.Avg),
		zap.Float64("avgSnapshotHz", verdict.SnapshotHz.Avg))
	return exitPass
}

func sampleServer(ctx context.Context, p *probe.Probe, phase string) *probe.Snapshot {
	snap, err := p.Sample(ctx)
	if err != nil {
		applog.Warn("Server probe failed", zap.String("phase", phase), zap.Error(err))
		return nil
	}
	applog.Info("Server probe",
		zap.String("phase", phase),
		zap.Float64("playerCount", snap.PlayerCount),
		zap.Float64("tickRate", snap.TickRate))
	return snap
}
