package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjawhar/quizwire/internal/config"
	"github.com/sjawhar/quizwire/internal/hub"
	"github.com/sjawhar/quizwire/internal/join"
	"github.com/sjawhar/quizwire/internal/questiongen"
	"github.com/sjawhar/quizwire/internal/server"
	"github.com/sjawhar/quizwire/internal/storage"
)

func main() {
	log.Println("quizwire: starting")

	configPath := flag.String("config", "quizwire.yaml", "path to the config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("warning: %s", warning)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	eventHub := hub.New(store, cfg, nil)

	gate := join.NewGate()
	joinSvc := join.NewService(store, gate, eventHub, hub.SystemClock, cfg.JoinLockGrace())

	var generator server.Generator
	if cfg.OpenAIAPIKey != "" {
		generator = questiongen.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}

	srv := server.New(store, eventHub, joinSvc, generator, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eventHub.Run(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.PruneDebounce(time.Now())
			}
		}
	}()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}
	go func() {
		log.Printf("quizwire: listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("quizwire: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
	eventHub.Shutdown()
}
