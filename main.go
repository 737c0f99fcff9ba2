// Package main is the entry point of the serofero realtime server.
//
// main only wires dependencies together:
//
//  1. config and logger
//  2. database and repositories
//  3. external collaborators (media store, alert sinks, content cipher)
//  4. WebSocket hub, services, handlers, routes
//  5. HTTP server and graceful shutdown
//
// There are no globals; everything is built here and passed down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/serofero/server/config"
	"github.com/serofero/server/database"
	"github.com/serofero/server/pkg/logger"
	"github.com/serofero/server/ws"
)

func main() {
	tokenFor := flag.Int64("token", 0, "print an access token for the given user id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.Server.Environment,
		LogLevel:    cfg.Log.Level,
		ServiceName: "serofero",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *tokenFor); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, tokenFor int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Upload.TempDir, cfg.Media.LocalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// ─── Database ───
	db, err := database.New(cfg.Database.Path, database.Migrations(), log.Named("database"))
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	repos := initRepositories(db.Conn)

	// ─── External collaborators ───
	infra, err := initInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	// ─── Realtime core ───
	hub := ws.NewHub(log.Named("ws"))

	svcs, err := initServices(repos, infra, hub, cfg, log)
	if err != nil {
		return err
	}
	defer svcs.Auth.Close()

	if tokenFor != 0 {
		return printToken(ctx, repos, svcs, tokenFor)
	}

	limiters := initRateLimiters(cfg)
	defer limiters.Close()

	h := initHandlers(svcs, limiters, hub, db.Conn, cfg, log)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Auth, cfg)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler.Handler(mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	svcs.Janitor.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	log.Info("shutting down")

	// sockets first so peers see a going-away close, then the listener
	hub.Shutdown()
	h.AnonWS.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	// hijacked sockets are not tracked by srv; wait for their loops so no
	// frame reaches the alert dispatcher after infra is closed
	if err := hub.Wait(shutdownCtx); err != nil {
		log.Warn("sessions still running at shutdown", zap.Error(err))
	}

	svcs.Janitor.Stop()
	svcs.Message.Wait()

	log.Info("server stopped")
	return nil
}

// printToken issues a development access token for an existing user.
func printToken(ctx context.Context, repos *Repositories, svcs *Services, userID int64) error {
	user, err := repos.User.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	token, err := svcs.Auth.IssueAccessToken(user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
