package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/engine"
	"mnemo/internal/httpapi"
	"mnemo/internal/llm"
	"mnemo/internal/memory"
	"mnemo/internal/reflection"
	"mnemo/internal/store"
	"mnemo/internal/token"
	"mnemo/internal/tool"
	"mnemo/internal/version"
	"mnemo/internal/window"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	fmt.Printf("mnemo conversation engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	backend := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.Ollama.BaseURL,
		Timeout: cfg.Ollama.Timeout,
	})

	ltm := memory.NewLTM(st, backend, cfg.Ollama.EmbedModel, logger)
	windows := window.NewBuilder(st)
	synthesizer := reflection.NewSynthesizer(st, backend, ltm, logger)

	registry := tool.NewRegistry(logger)
	if err := registry.Register(tool.GetCurrentTime(nil)); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	resolver := tool.NewOrchestrator(backend, registry, logger)

	eng := engine.New(st, ltm, windows, resolver, synthesizer, token.Estimate, engine.Params{
		ChatModel:          cfg.Ollama.ChatModel,
		TokenBudget:        cfg.Memory.TokenBudget,
		RetrievalTopN:      cfg.Memory.RetrievalTopN,
		RetrievalThreshold: cfg.Memory.RetrievalThreshold,
		ReflectionInterval: cfg.Memory.ReflectionInterval,
		ReflectionLookback: cfg.Memory.ReflectionLookback,
	}, logger)

	api := httpapi.NewServer(st, eng, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
