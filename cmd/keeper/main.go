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

	"mining_keeper/internal/config"
	"mining_keeper/internal/engine"
	"mining_keeper/internal/httpapi"
	"mining_keeper/internal/logbus"
	"mining_keeper/internal/notify"
	"mining_keeper/internal/provider/standard"
	"mining_keeper/internal/store/file"
	"mining_keeper/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	bus.EnableConsole()
	bus.Log("info", "keeper starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	proxies := file.LoadProxies(cfg.Files.ProxyPath, bus)
	if len(proxies) == 0 {
		log.Fatalf("no proxies in %s", cfg.Files.ProxyPath)
	}
	accounts := file.NewAccounts(cfg.Files.TokenPath, cfg.Files.UniqueIDPath)

	notifier := notify.NewEmailNotifier(store, bus)
	prov := standard.New(cfg.Provider, bus)
	eng := engine.New(engine.Options{
		Accounts: accounts,
		History:  store,
		Provider: prov,
		Bus:      bus,
		Notifier: notifier,
		Limits:   cfg.Limits,
		Task:     cfg.Task,
		Claim:    cfg.Claim,
		Proxies:  proxies,
	})

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		Cfg:      cfg,
		Bus:      bus,
		Store:    store,
		Accounts: accounts,
		Engine:   eng,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = eng.Stop(shutdownCtx)
	_ = server.Shutdown(shutdownCtx)
	_ = notifier.Close(shutdownCtx)
	bus.Log("info", "keeper stopped", nil)
}
