package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wikirag/internal/chunker"
	"wikirag/internal/config"
	"wikirag/internal/embedder"
	"wikirag/internal/httpapi"
	"wikirag/internal/logging"
	"wikirag/internal/retrieve"
	"wikirag/internal/store"
	"wikirag/internal/sync"
	"wikirag/internal/wiki"
)

func main() {
	if err := run(); err != nil {
		logging.Log.WithError(err).Fatal("wikirag server")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseCtx := context.Background()

	st, err := store.Open(baseCtx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.Embedding.Dimension)
	if err != nil {
		return err
	}
	defer st.Close()

	wikiClient := wiki.NewHTTPClient(cfg.Wiki)
	embedClient := embedder.New(cfg.Embedding)
	chunks, err := chunker.New(chunker.OptionsFromConfig(cfg.Chunker), cfg.Embedding.Model)
	if err != nil {
		return err
	}

	orch := sync.New(wikiClient, st, chunks, embedClient, cfg.Wiki.BaseURL)
	scheduler := sync.NewScheduler(orch, cfg.SyncIntervalMin)
	scheduler.Start()
	defer scheduler.Stop()

	retrieveSvc := retrieve.New(st, embedClient)
	apiServer := httpapi.NewServer(retrieveSvc, orch, st, wikiClient, httpapi.Config{
		DefaultTopK:     cfg.Search.TopK,
		DefaultMaxPages: cfg.Search.MaxPages,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer}

	go func() {
		if serveErr := st.EnsureVectorIndex(baseCtx, 10000); serveErr != nil {
			logging.Log.WithError(serveErr).Warn("vector index not created")
		}
	}()

	go func() {
		logging.Log.WithField("addr", cfg.HTTPAddr).Info("wikirag server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
