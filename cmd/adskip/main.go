package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/izumilab/adskip/internal/api"
	"github.com/izumilab/adskip/internal/browser"
	"github.com/izumilab/adskip/internal/config"
	"github.com/izumilab/adskip/internal/detection"
	"github.com/izumilab/adskip/internal/engine"
	"github.com/izumilab/adskip/internal/metadata"
	"github.com/izumilab/adskip/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	db, err := storage.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	repo := storage.NewRepo(storage.NewSQLiteStore(db))

	client, err := browser.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	provider := metadata.NewClient(cfg.PlatformAPIBase)
	detector := detection.NewClient(cfg.DetectEndpoint, cfg.SigningSecret, cfg.ClientVersion)

	eng := engine.New(cfg, repo, provider, detector, client, client, client, client)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(eng, repo),
	}
	go func() {
		slog.Info("control api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := eng.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
