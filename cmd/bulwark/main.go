package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/bulwark-ai/bulwark/pkg/api"
	"github.com/bulwark-ai/bulwark/pkg/audit"
	"github.com/bulwark-ai/bulwark/pkg/config"
	"github.com/bulwark-ai/bulwark/pkg/guard"
	"github.com/bulwark-ai/bulwark/pkg/signals"
	"github.com/bulwark-ai/bulwark/pkg/telemetry"
)

func main() {
	evalText := flag.String("eval", "", "evaluate a single text, print the verdict, and exit")
	cfgPath := flag.String("config", config.GetEnvStr("BULWARK_CONFIG", ""), "path to config YAML")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	tower, auditStore, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	if auditStore != nil {
		defer auditStore.Close()
	}

	if *evalText != "" {
		runEval(ctx, tower, *evalText)
		return
	}

	srv := api.NewServer(tower, auditStore, log)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	log.Info("listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.Listen(cfg.ListenAddr); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*guard.ControlTower, *audit.Store, error) {
	policy, err := config.LoadPolicyFile(cfg.PolicyPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.StrictMode {
		policy.StrictMode = true
	}
	holder, err := guard.NewPolicyHolder(policy)
	if err != nil {
		return nil, nil, err
	}

	var cache guard.DecisionCache
	switch cfg.CacheBackend {
	case config.CacheMemory:
		cache = guard.NewMemoryCache(cfg.CacheSize)
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cache = guard.NewRedisCache(client, "", log)
	case config.CacheOff:
		// run uncached
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}

	tier1 := signals.NewPatternMatcher()

	var tier2 guard.TierDetector
	embedder, err := signals.NewOnnxEmbedder(signals.OnnxEmbedderConfig{
		ModelPath:       cfg.EmbeddingModelPath,
		OnnxLibraryPath: cfg.OnnxLibraryPath,
	}, log)
	if err != nil {
		log.Warn("tier 2 disabled, ambiguous traffic goes straight to tier 3", zap.Error(err))
	} else {
		scorer, err := signals.NewSemanticScorer(embedder, log)
		if err != nil {
			return nil, nil, err
		}
		seeds, err := signals.LoadSeedDir(cfg.SeedDir)
		if err != nil {
			return nil, nil, err
		}
		if err := scorer.LoadSeeds(ctx, seeds); err != nil {
			return nil, nil, err
		}
		tier2 = scorer
	}

	var tier3 guard.TierDetector
	if cfg.LLMProvider != config.ProviderNone && cfg.LLMBaseURL != "" {
		tier3 = signals.NewReasoningAgent(signals.ReasoningConfig{
			BaseURL:     cfg.LLMBaseURL,
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			Temperature: 0.0,
			MaxTokens:   256,
		}, log)
	} else {
		log.Warn("tier 3 disabled, deep escalations resolve as indeterminate")
	}

	router := guard.NewTierRouter(guard.RouterConfig{
		Tier1Budget:        cfg.Tier1Budget,
		Tier2Budget:        cfg.Tier2Budget,
		Tier3Budget:        cfg.Tier3Budget,
		HardDeadlineGrace:  cfg.HardDeadlineGrace,
		Tier1HighThreshold: cfg.Tier1HighThreshold,
		Tier1LowThreshold:  cfg.Tier1LowThreshold,
		Tier2HighThreshold: cfg.Tier2HighThreshold,
		Tier2LowThreshold:  cfg.Tier2LowThreshold,
	}, tier1, tier2, tier3, log)

	var auditStore *audit.Store
	var sink guard.AuditSink
	if cfg.AuditDatabaseURL != "" {
		auditStore, err = audit.NewStore(ctx, cfg.AuditDatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		sink = auditStore
	}

	tower := guard.NewControlTower(
		guard.TowerConfig{CacheTTL: cfg.CacheTTL, HealthBand: guard.DefaultHealthBand()},
		guard.NewFingerprinter(cfg.FingerprintKeys...),
		cache,
		router,
		holder,
		guard.NewTierCounters(),
		sink,
		log,
	)
	return tower, auditStore, nil
}

func runEval(ctx context.Context, tower *guard.ControlTower, text string) {
	verdict, action, err := tower.Evaluate(ctx, guard.DetectionRequest{Text: text})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, err := json.Marshal(struct {
		Action  guard.Action  `json:"action"`
		Verdict guard.Verdict `json:"verdict"`
	}{action, verdict})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Stdout.Write(pretty.Color(pretty.Pretty(out), nil))

	if action == guard.ActionBlock {
		os.Exit(2)
	}
}
