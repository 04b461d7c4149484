package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"todo-sync/server/internal/api"
	"todo-sync/server/internal/config"
	"todo-sync/server/internal/repository"
)

func main() {
	// 本地开发用的推送源：REST 变更 + SSE/WebSocket 事件流。
	configPath := flag.String("config", "", "config file path (yaml)")
	addr := flag.String("addr", "", "http listen address (overrides relay.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}

	server := api.NewServer(cfg.Relay, repository.NewInMemoryStore(), log.Default())
	httpServer := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		// 先断开推送订阅者，长连接 handler 才能退出
		server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("todorelay listening on %s", cfg.Relay.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
