package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/triton/pkg/approval"
	"mercator-hq/triton/pkg/config"
	"mercator-hq/triton/pkg/intent"
	"mercator-hq/triton/pkg/maintenance"
	"mercator-hq/triton/pkg/orchestrator"
	"mercator-hq/triton/pkg/policy"
	"mercator-hq/triton/pkg/provider"
	"mercator-hq/triton/pkg/server"
	"mercator-hq/triton/pkg/server/handlers"
	"mercator-hq/triton/pkg/telemetry/logging"
	"mercator-hq/triton/pkg/telemetry/metrics"
	"mercator-hq/triton/pkg/tools"
	"mercator-hq/triton/pkg/trace"
	"mercator-hq/triton/pkg/trace/storage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Triton control plane server",
	Long: `Start the Triton server with the specified configuration.

The server listens on the configured address and serves chat, tool
approval, tool execution, and trust endpoints backed by the policy
engine, the approval store, the sandbox executor, and the trace ledger.

Examples:
  # Start with default config
  triton run

  # Start with custom config
  triton run --config /etc/triton/triton.yaml

  # Override listen address
  triton run --listen 0.0.0.0:8080

  # Validate config without starting server
  triton run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.LogLevel = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := logging.Setup(logging.Config{
		Level:  cfg.Telemetry.LogLevel,
		Format: cfg.Telemetry.LogFormat,
		Redact: cfg.Telemetry.RedactLogs,
	}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Triton v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Trace ledger
	var traceStore storage.Storage
	if cfg.Trace.Enabled {
		sqliteStore, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
			Path:    cfg.Trace.Path,
			WALMode: cfg.Trace.WAL,
		})
		if err != nil {
			return fmt.Errorf("failed to open trace ledger: %w", err)
		}
		traceStore = sqliteStore
	} else {
		slog.Warn("trace ledger disabled, requests will not be auditable")
		traceStore = storage.NewMemoryStorage()
	}
	ledger := trace.NewLedger(traceStore, trace.LedgerConfig{
		Profile:   trace.RedactionProfile{MaxValueChars: cfg.Trace.MaxValueChars},
		MaxEvents: cfg.Trace.MaxEvents,
	})
	defer ledger.Close()
	fmt.Println("✓ Trace ledger initialized")

	// Policy engine
	engine, err := policy.NewEngine(policy.EngineConfig{
		Enforce: cfg.Policy.Enforce,
		Path:    cfg.Policy.Path,
	})
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	fmt.Printf("✓ Policy engine loaded (hash %.12s)\n", engine.PolicyHash())

	if cfg.Policy.Watch {
		watcher, err := policy.NewWatcher(engine, 0)
		if err != nil {
			slog.Warn("failed to start policy watcher", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					slog.Error("policy watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	// Approval store
	approvals, err := approval.NewStore(approval.StoreConfig{
		Path: cfg.Approvals.Path,
		TTL:  cfg.Approvals.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}
	defer approvals.Close()
	fmt.Println("✓ Approval store initialized")

	// Tool registry and executor
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	sandbox := tools.NewDockerSandbox(tools.SandboxConfig{
		Enabled:  cfg.Sandbox.Enabled,
		Image:    cfg.Sandbox.Image,
		CPU:      cfg.Sandbox.CPU,
		MemoryMB: cfg.Sandbox.MemoryMB,
		Timeout:  cfg.Sandbox.Timeout,
		ToolDir:  cfg.Sandbox.ToolDir,
	})
	executor := tools.NewExecutor(registry, sandbox, ledger, tools.ExecutorConfig{
		SandboxRequired: cfg.Sandbox.Required,
		AllowFallback:   cfg.Sandbox.AllowFallback,
	})
	fmt.Printf("✓ Tool registry initialized (%d tools, sandbox available: %v)\n",
		len(registry.List()), sandbox.Available())

	// Provider client
	client, err := provider.NewClient(provider.ClientConfig{
		NetworkEnabled:     cfg.Provider.NetworkEnabled,
		BaseURL:            cfg.Provider.BaseURL,
		Model:              cfg.Provider.Model,
		Timeout:            cfg.Provider.Timeout,
		HealthTimeout:      cfg.Provider.HealthTimeout,
		RetryCount:         cfg.Provider.RetryCount,
		RetryBackoff:       cfg.Provider.RetryBackoff,
		MaxOutputChars:     cfg.Provider.MaxOutputChars,
		CircuitMaxFailures: cfg.Provider.CircuitMaxFailures,
		CircuitReset:       cfg.Provider.CircuitReset,
		ModelAllowlist:     cfg.Provider.ModelAllowlist,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider client: %w", err)
	}
	if !cfg.Provider.NetworkEnabled {
		slog.Info("outbound provider calls disabled")
	}

	// Intent router
	rules := intent.NewRuleRouter()
	for _, rule := range intent.DefaultRules() {
		rules.Add(rule)
	}

	var cache *intent.Cache
	if cfg.Intent.CacheEnabled {
		cache, err = intent.NewCache(intent.CacheConfig{
			Enabled: true,
			Path:    cfg.Intent.CachePath,
			TTL:     cfg.Intent.CacheTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to open intent cache: %w", err)
		}
		defer cache.Close()

		// Stale decisions must not survive a policy change.
		engine.Subscribe(func(policyHash string) {
			flushed, err := cache.FlushExcept(context.Background(), policyHash)
			if err != nil {
				slog.Error("intent cache flush failed", "error", err)
				return
			}
			slog.Info("intent cache flushed after policy reload",
				"policy_hash", policyHash,
				"flushed", flushed,
			)
		})
	}

	var hitl *intent.HITLQueue
	if cfg.Intent.HITLEnabled {
		hitl, err = intent.NewHITLQueue(intent.HITLConfig{
			Enabled: true,
			Path:    cfg.Intent.HITLPath,
		})
		if err != nil {
			return fmt.Errorf("failed to open HITL queue: %w", err)
		}
		defer hitl.Close()
	}

	var semantic *intent.SemanticRouter
	if cfg.Intent.SemanticEnabled {
		embedder := intent.NewOllamaEmbedder(cfg.Intent.EmbedURL, cfg.Intent.EmbedModel, cfg.Intent.EmbedTimeout)
		semantic = intent.NewSemanticRouter(registry, embedder, true)
	}

	router := intent.NewRouter(intent.RouterConfig{
		Enabled:       cfg.Intent.Enabled,
		Shadow:        cfg.Intent.Shadow,
		MinConfidence: cfg.Intent.MinConfidence,
		MinGap:        cfg.Intent.MinGap,
		DefaultTool:   cfg.Intent.DefaultTool,
	}, rules, semantic, cache, hitl, engine, ledger)

	if cfg.Intent.Enabled {
		mode := "active"
		if cfg.Intent.Shadow {
			mode = "shadow"
		}
		fmt.Printf("✓ Intent router enabled (%s mode)\n", mode)
	}

	// Orchestrator
	var collector *metrics.Collector
	if cfg.Telemetry.MetricsEnabled {
		collector = metrics.NewCollector(nil)
	}
	orch := orchestrator.New(orchestrator.Config{
		ApprovalsEnforced: cfg.Approvals.Enforce,
		ApprovalTTL:       cfg.Approvals.TTL,
	}, orchestrator.Deps{
		Ledger:    ledger,
		Router:    router,
		Legacy:    rules,
		Engine:    engine,
		Approvals: approvals,
		Registry:  registry,
		Executor:  executor,
		Provider:  client,
		Metrics:   collector,
	})

	// Maintenance
	jobs := []maintenance.Job{
		{Name: "approval_gc", Run: approvals.GarbageCollect},
	}
	if cache != nil {
		jobs = append(jobs, maintenance.Job{Name: "intent_cache_prune", Run: cache.PruneExpired})
	}
	scheduler := maintenance.NewScheduler(maintenance.Config{
		Enabled:  cfg.Maintenance.Enabled,
		Schedule: cfg.Maintenance.Schedule,
	}, jobs...)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}
	defer scheduler.Stop()

	// Readiness probes
	checks := []handlers.ReadyCheck{
		{Name: "trace_ledger", Check: func(ctx context.Context) error {
			_, err := ledger.RecentSteps(ctx, 1, nil)
			return err
		}},
		{Name: "approval_store", Check: func(ctx context.Context) error {
			_, err := approvals.ValidateAndConsume(ctx, "readiness-probe", "none", nil)
			return err
		}},
	}
	if cfg.Provider.NetworkEnabled {
		checks = append(checks, handlers.ReadyCheck{Name: "provider", Check: func(ctx context.Context) error {
			if ok, detail := client.HealthCheck(ctx); !ok {
				return fmt.Errorf("provider unhealthy: %s", detail)
			}
			return nil
		}})
	}

	srv := server.New(cfg.Server, orch, ledger, collector, checks)

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.MetricsEnabled {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	start := time.Now()
	err = srv.Start(ctx)
	slog.Info("server exited", "uptime", time.Since(start).Round(time.Second).String())
	return err
}
