package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/harisbotic/ustore/pkg/api"
	"github.com/harisbotic/ustore/pkg/config"
	"github.com/harisbotic/ustore/pkg/logger"
	"github.com/harisbotic/ustore/pkg/substrate"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	cacheBytes, err := cfg.Store.CacheBytes()
	if err != nil {
		logger.Error("bad_cache_size", "error", err)
		os.Exit(2)
	}
	db, err := substrate.Open(cfg.Store.Path, substrate.Options{
		Sync:       cfg.Store.Sync,
		CacheBytes: cacheBytes,
	})
	if err != nil {
		logger.Error("store_open_failed", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}

	addr := net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(db).Handler(),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("serving", "addr", addr, "db", cfg.Store.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("serve_failed", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("shutting_down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bye")
}
