package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/config"
	"github.com/quarry-ai/quarry/enrich"
	"github.com/quarry-ai/quarry/pipeline"
	"github.com/quarry-ai/quarry/progress"
	"github.com/quarry-ai/quarry/provider"
	"github.com/quarry-ai/quarry/qa"
	"github.com/quarry-ai/quarry/ratelimit"
	"github.com/quarry-ai/quarry/server"
	"github.com/quarry-ai/quarry/vectorstore"
)

func main() {
	var cfg, err = config.Load(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.WithField("err", err).Fatal("parsing configuration")
	}
	cfg.InitLog()

	if err = serve(cfg); err != nil {
		log.WithField("err", err).Fatal("quarry server failed")
	}
	log.Info("goodbye")
}

func serve(cfg *config.Config) error {
	var ctx = context.Background()

	log.WithFields(log.Fields{
		"listen":      cfg.Server.ListenAddr,
		"environment": cfg.Server.Environment,
		"embeddings":  cfg.Providers.Embeddings,
		"qa":          cfg.Providers.QA,
	}).Info("quarry server configuration")

	var limiter = ratelimit.New(cfg.Providers.RateLimitRPM)
	var settings = cfg.ProviderSettings()

	embeddings, err := provider.NewEmbeddings(ctx, cfg.Providers.Embeddings, settings, limiter)
	if err != nil {
		return fmt.Errorf("building embeddings provider: %w", err)
	}
	metadataChat, err := provider.NewChat(ctx, cfg.Providers.Metadata, settings, limiter)
	if err != nil {
		return fmt.Errorf("building metadata provider: %w", err)
	}
	qaChat, err := provider.NewChat(ctx, cfg.Providers.QA, settings, limiter)
	if err != nil {
		return fmt.Errorf("building qa provider: %w", err)
	}

	storeCfg, err := cfg.VectorStoreConfig()
	if err != nil {
		return err
	}
	store, err := vectorstore.Open(storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var probeCtx, probeCancel = context.WithTimeout(ctx, 10*time.Second)
	var health = store.Health(probeCtx)
	probeCancel()
	if !health.OK {
		log.WithField("detail", health.Detail).Warn("vector store unreachable at startup")
	} else {
		log.WithFields(log.Fields{
			"version":   health.Detail,
			"latencyMs": health.LatencyMS,
		}).Info("vector store reachable")
	}

	var tracker = progress.NewTracker(cfg.ProgressTTL())
	var pipe = pipeline.New(embeddings, enrich.New(metadataChat), store, tracker, pipeline.Options{
		Concurrency:     cfg.Ingestion.Concurrency,
		DefaultStrategy: cfg.Ingestion.DefaultStrategy,
		ChunkOptions:    cfg.ChunkOptions(),
	})

	var cache *qa.Cache
	if cfg.Cache.RedisURL != "" {
		if cache, err = qa.NewCache(cfg.Cache.RedisURL, cfg.Cache.TTL); err != nil {
			log.WithField("err", err).Warn("answer cache disabled")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var qaService = qa.New(store, embeddings, qaChat, pipe, cache, qa.Options{
		DefaultCollection: cfg.VectorStore.Collection,
	})

	var srv = server.New(cfg.Server.ListenAddr, server.Args{
		Limiter:               limiter,
		Store:                 store,
		Tracker:               tracker,
		Pipe:                  pipe,
		QA:                    qaService,
		DefaultCollection:     cfg.VectorStore.Collection,
		EnableMetadataDefault: cfg.Ingestion.EnableMetadataDefault,
		Environment:           cfg.Server.Environment,
	})

	// Install signal handler; drain on SIGTERM or SIGINT.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	var serveErr = make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case sig := <-signalCh:
		log.WithField("signal", sig).Info("caught signal; draining")

		var stopCtx, cancel = context.WithTimeout(ctx, 35*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			return fmt.Errorf("stopping server: %w", err)
		}
		return <-serveErr

	case err := <-serveErr:
		return err
	}
}
