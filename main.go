package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pokerhall/internal/auth"
	"pokerhall/internal/broadcast"
	"pokerhall/internal/config"
	"pokerhall/internal/gateway"
	"pokerhall/internal/ledger"
	"pokerhall/internal/lobby"
	"pokerhall/internal/reaper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	authService, authMode, err := auth.NewService(auth.Config{
		Mode:       cfg.AuthMode,
		DBPath:     cfg.LocalDatabasePath,
		SessionTTL: cfg.SessionTTL,
	})
	if err != nil {
		log.Fatalf("[Server] Failed to init auth manager: %v", err)
	}
	defer authService.Close()

	ledgerService, ledgerMode, err := ledger.NewService(ledger.Config{
		Mode:   cfg.LedgerMode,
		DBPath: cfg.LocalDatabasePath,
		DSN:    cfg.DatabaseURL,
	})
	if err != nil {
		log.Fatalf("[Server] Failed to init ledger service: %v", err)
	}
	defer ledgerService.Close()

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		account, err := authService.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			log.Fatalf("[Server] Failed to bootstrap admin: %v", err)
		}
		log.Printf("[Server] Admin account ready: %s (id=%d)", account.Username, account.ID)
	}

	hub := broadcast.NewHub()
	defer hub.Close()

	lby := lobby.New(ledgerService, hub, cfg.IdleTableTimeout)
	rpr := reaper.New(lby, cfg.ReapInterval)
	gw := gateway.New(lby, hub, authService)

	grantStartingBalance := func(account auth.Account) {
		if cfg.StartingBalance <= 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ledgerService.Credit(ctx, account.ID, cfg.StartingBalance); err != nil {
			log.Printf("[Server] Failed to grant starting balance to user %d: %v", account.ID, err)
		}
	}

	authHTTP := auth.NewHTTPHandler(authService, grantStartingBalance)
	lobbyHTTP := lobby.NewHTTPHandler(authService, lby)
	ledgerHTTP := ledger.NewHTTPHandler(authService, ledgerService)
	adminHTTP := reaper.NewHTTPHandler(authService, lby, rpr, cfg.AdminAPIKey)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	authHTTP.RegisterRoutes(mux)
	lobbyHTTP.RegisterRoutes(mux)
	ledgerHTTP.RegisterRoutes(mux)
	adminHTTP.RegisterRoutes(mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpr.Start(ctx)
	defer rpr.Stop()

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	log.Printf("[Server] Auth mode: %s", authMode)
	log.Printf("[Server] Ledger mode: %s", ledgerMode)
	log.Printf("[Server] Idle table timeout: %s, reap interval: %s", cfg.IdleTableTimeout, cfg.ReapInterval)
	log.Printf("[Server] Listening on %s", cfg.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[Server] Failed to start: %v", err)
	}
	log.Printf("[Server] Shutdown complete")
}
