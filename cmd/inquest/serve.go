package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/inquest/pkg/canonical"
	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/embedder"
	"github.com/kadirpekel/inquest/pkg/extraction"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/interview"
	"github.com/kadirpekel/inquest/pkg/llms"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/observability"
	"github.com/kadirpekel/inquest/pkg/question"
	"github.com/kadirpekel/inquest/pkg/scoring"
	"github.com/kadirpekel/inquest/pkg/server"
	"github.com/kadirpekel/inquest/pkg/signals"
	"github.com/kadirpekel/inquest/pkg/storage"
	"github.com/kadirpekel/inquest/pkg/strategy"
	"github.com/kadirpekel/inquest/pkg/vector"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch the config source for changes and rebuild the scoring engine."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := c.loadConfig(cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	metrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{Enabled: cfg.Server.Metrics})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	db, dialect, err := storage.Open(&cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	methodologies := methodology.NewRegistry(cfg.Methodology.Dir)
	concepts := methodology.NewConceptCatalog(cfg.Methodology.Concepts)

	graphStore, err := graph.NewStore(db, dialect, methodologies)
	if err != nil {
		return fmt.Errorf("failed to create graph store: %w", err)
	}

	index, err := vector.NewProvider(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	canonStore, err := canonical.NewStore(db, dialect, index)
	if err != nil {
		return fmt.Errorf("failed to create canonical store: %w", err)
	}

	embed, err := embedder.NewFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer embed.Close()

	clients, err := llms.BuildClients(&cfg.LLM)
	if err != nil {
		return err
	}
	defer clients.Close()

	extractionLLM, err := clients.Client(llms.ClientExtraction)
	if err != nil {
		return err
	}
	scoringLLM, err := clients.Client(llms.ClientScoring)
	if err != nil {
		return err
	}
	generationLLM, err := clients.Client(llms.ClientGeneration)
	if err != nil {
		return err
	}

	extractor := extraction.NewService(extractionLLM, methodologies, extraction.Config{
		MinChars:  cfg.Interview.MinExtractableChars,
		MinTokens: cfg.Interview.MinExtractableTokens,
	})

	signalizer := signals.NewExtractor(scoringLLM, signals.Config{
		LookbackTurns: cfg.Interview.SignalLookbackTurns,
	})

	slots := canonical.NewSlotService(canonStore, embed, extractionLLM, canonical.ServiceConfig{
		BatchSize:           cfg.Interview.SlotDiscoveryBatchSize,
		Timeout:             time.Duration(cfg.Interview.SlotDiscoveryTimeout) * time.Second,
		SimilarityThreshold: cfg.Interview.CanonicalSimilarityThreshold,
		MinSupport:          cfg.Interview.CanonicalMinSupportNodes,
	})

	strategies, err := buildStrategies(cfg)
	if err != nil {
		return err
	}

	questions := question.NewService(generationLLM, time.Duration(cfg.LLM.Generation.Timeout)*time.Second)

	sessions, err := interview.NewSessionStore(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	interviews, err := interview.NewService(interview.ServiceDeps{
		Sessions:      sessions,
		GraphStore:    graphStore,
		CanonStore:    canonStore,
		Slots:         slots,
		Extractor:     extractor,
		Signals:       signalizer,
		Strategies:    strategies,
		Questions:     questions,
		Methodologies: methodologies,
		Concepts:      concepts,
	}, cfg.Interview)
	if err != nil {
		return fmt.Errorf("failed to create interview service: %w", err)
	}

	// Weight or threshold changes rebuild the engine; a rebuild that fails
	// validation keeps the previous engine serving.
	if c.Watch && loader != nil {
		loader.SetOnChange(func(next *config.Config) error {
			rebuilt, err := buildStrategies(next)
			if err != nil {
				slog.Error("Config change rejected", "error", err)
				return err
			}
			interviews.ReplaceStrategies(rebuilt)
			slog.Info("Scoring engine rebuilt from config change")
			return nil
		})
	}

	srv, err := server.New(interviews, metrics, cfg.Server)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	fmt.Printf("inquest server ready on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Health:   http://%s:%d/health\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Sessions: http://%s:%d/v1/sessions\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Server.Metrics {
		fmt.Printf("   Metrics:  http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	}

	return srv.Start()
}

func (c *ServeCmd) loadConfig(cli *CLI) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		slog.Info("No config file given, using defaults")
		return config.Default(), nil, nil
	}

	configType, err := config.ParseConfigType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type:  configType,
		Path:  cli.Config,
		Watch: c.Watch,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// buildStrategies assembles a fresh scoring engine and selection service
// from config. The engine validates the tier-2 weight sum at construction.
func buildStrategies(cfg *config.Config) (*strategy.Service, error) {
	engine, err := scoring.NewEngine(&cfg.Scoring, cfg.Interview.DepthTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring engine: %w", err)
	}
	strategies, err := strategy.NewService(nil, engine, &cfg.Scoring, cfg.Interview.Phases)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy service: %w", err)
	}
	return strategies, nil
}
