package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/memkit-go/memkit/internal/config"
	"github.com/memkit-go/memkit/internal/gc"
	"github.com/memkit-go/memkit/internal/heap"
	"github.com/memkit-go/memkit/internal/telemetry"
	"github.com/memkit-go/memkit/internal/versions"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run the synthetic allocation workload",
	Long: `Run mutator goroutines that allocate a rolling object graph into a bounded
synthetic heap. When the heap fills, the allocation bridge triggers parallel
collection cycles until the workload duration elapses.

The workload requires a configuration file (--config) specifying the heap
bound, the worker pool size, and the workload shape.`,
	RunE: runStress,
}

func init() {
	stressCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	stressCmd.Flags().Int("workers", 0, "Override the configured worker pool size")

	err := viper.BindPFlag("config", stressCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Error binding config flag", "error", err)
	}
	err = viper.BindPFlag("workers", stressCmd.Flags().Lookup("workers"))
	if err != nil {
		slog.Error("Error binding workers flag", "error", err)
	}

	if err := stressCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Error marking config flag required", "error", err)
	}
}

func runStress(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("debug") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(viper.GetString("config")))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if workers := viper.GetInt("workers"); workers > 0 {
		cfg.Workers = workers
	}

	provider, metricsHandler, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithMetricsEnabled(cfg.Telemetry.Enabled),
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewCollectionMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create collection metrics: %w", err)
	}
	if metricsHandler != nil {
		startMetricsServer(ctx, cfg.Telemetry.Address, metricsHandler)
	}

	h := heap.New(cfg.Heap.LimitBytes)
	engine := gc.New(heap.NewMarkPlan(h), cfg.Workers,
		gc.WithMetrics(metrics),
		gc.WithObjectQueueCapacity(cfg.ObjectQueueCapacity),
	)
	engine.StartWorkers()
	defer engine.Shutdown()

	slog.Info("Stress workload starting",
		"workers", cfg.Workers,
		"mutators", cfg.Stress.Mutators,
		"heap_limit_bytes", cfg.Heap.LimitBytes,
		"duration", cfg.Stress.Duration)

	runCtx, cancel := context.WithTimeout(ctx, cfg.StressDuration())
	defer cancel()

	start := time.Now()
	group, groupCtx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Stress.Mutators; i++ {
		group.Go(func() error {
			return runMutator(groupCtx, engine, h, cfg)
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("stress workload failed: %w", err)
	}

	slog.Info("Stress workload complete",
		"elapsed", time.Since(start),
		"live_objects", h.ObjectCount(),
		"used_bytes", h.UsedBytes(),
		"packets_executed", engine.Scheduler().PacketsExecuted())
	return nil
}

// startMetricsServer serves the Prometheus scrape endpoint in the
// background for the lifetime of ctx.
func startMetricsServer(ctx context.Context, address string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Metrics endpoint listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// runMutator is one synthetic application thread: it allocates objects with
// random edges into its own rolling live window, keeps the window rooted,
// and polls the safepoint on every iteration. When allocation fails it
// blocks on the allocation bridge until a cycle completes.
func runMutator(ctx context.Context, engine *gc.Engine, h *heap.Heap, cfg *config.Config) error {
	m := engine.Barrier().Register()
	defer m.Deregister()

	window := make([]gc.ObjectRef, 0, cfg.Stress.LiveWindow)
	var allocated uint64

	for ctx.Err() == nil {
		m.Safepoint()

		edges := make([]gc.ObjectRef, 0, cfg.Stress.OutDegree)
		for i := 0; i < cfg.Stress.OutDegree && len(window) > 0; i++ {
			edges = append(edges, window[rand.IntN(len(window))])
		}

		ref, ok := h.Alloc(cfg.Stress.ObjectBytes, edges...)
		if !ok {
			outcome, err := engine.RequestCollection(ctx, m)
			if err != nil {
				break
			}
			if outcome == gc.OutcomeOutOfMemory {
				// The rolling windows alone exceed the heap: shed this
				// mutator's live set and keep allocating.
				slog.Warn("Heap exhausted, dropping live window", "mutator", m.ID())
				window = window[:0]
				h.SetMutatorRoots(m.ID(), nil)
			}
			continue
		}

		allocated++
		window = append(window, ref)
		if len(window) > cfg.Stress.LiveWindow {
			window = window[1:]
		}
		h.SetMutatorRoots(m.ID(), window)
	}

	slog.Debug("Mutator finished", "mutator", m.ID(), "allocated", allocated)
	return nil
}
