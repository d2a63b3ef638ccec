package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dev-xero/chessio-server/internal/challenge"
	"github.com/dev-xero/chessio-server/internal/config"
	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/identity"
	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/session"
	"github.com/dev-xero/chessio-server/internal/store"
	apphttp "github.com/dev-xero/chessio-server/internal/transport/http"
	"github.com/dev-xero/chessio-server/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	gw, err := store.NewGateway(cfg.RedisURL)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}

	reg := registry.New()
	bridge := store.NewBridge(gw, reg)

	bctx, bcancel := context.WithCancel(context.Background())
	defer bcancel()
	if err := bridge.Start(bctx); err != nil {
		log.Fatalf("event bridge error: %v", err)
	}

	games := game.NewService(gw, game.NewEngine(), reg, bridge)
	challenges := challenge.NewService(gw, games, reg, bridge)
	ready := session.New(games, reg, bridge)

	verifier := identity.NewClient(cfg.AuthBaseURL)

	dispatcher := ws.NewDispatcher(reg, ready, games)
	wsHandler := ws.NewHandler(dispatcher, cfg.AllowedOrigins)

	handlers := apphttp.NewHandlers(verifier, challenges, games, cfg.DefaultDuration)
	e := apphttp.New(handlers, wsHandler, cfg.AllowedOrigins)

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.Addr), zap.String("instance", bridge.InstanceID()))
		if serr := e.Start(cfg.Addr); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			obslog.L().Fatal("server_error", zap.Error(serr))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("server_shutdown")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := e.Shutdown(sctx); err != nil {
		obslog.L().Warn("server_shutdown_error", zap.Error(err))
	}
	bcancel()
	_ = gw.Close()
}
