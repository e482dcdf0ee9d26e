package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/api"
	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/config"
	"gwi.com/pdf-assistant/internal/core"
	"gwi.com/pdf-assistant/internal/logger"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

func main() {
	config.LoadConfig()

	port := pflag.String("port", config.AppConfig.HTTPPort, "HTTP port to listen on")
	dbPath := pflag.String("db", config.AppConfig.DatabaseURL, "SQLite database file")
	logLevel := pflag.String("log-level", config.AppConfig.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	prod := pflag.Bool("prod", false, "Log JSON to stdout")
	pflag.Parse()

	log := logger.New(*logLevel, config.AppConfig.LogFile, *prod)
	defer log.Sync()

	dbStore, err := store.NewSQLiteStore(*dbPath, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()
	sessions := store.NewCachedSessionStore(dbStore, config.AppConfig.SessionCacheTTL)

	ctx := context.Background()
	view := viewstate.NewStore(dbStore, log)
	if err := view.Load(ctx); err != nil {
		log.Warn("Starting with an empty view", zap.Error(err))
	}

	sessionService := core.NewSessionService(sessions, view, log)
	if _, err := sessionService.Restore(ctx); err != nil {
		log.Warn("Could not restore the current session", zap.Error(err))
	}

	keys := core.SlotKey{KV: dbStore}
	if err := seedAPIKey(ctx, keys, config.AppConfig.GeminiAPIKey); err != nil {
		log.Warn("Could not seed API key from environment", zap.Error(err))
	}

	gen := core.NewGeminiGenerator(keys, config.AppConfig.ChatModel, log)
	defer gen.Close()
	// Shared sessions answer with the relay's own key, never the local one.
	shareGen := core.NewGeminiGenerator(core.StaticKey(config.AppConfig.ShareGeminiAPIKey), config.AppConfig.ChatModel, log)
	defer shareGen.Close()

	reconciler := core.NewReconciler(config.AppConfig.StreamCommitEvery, config.AppConfig.StreamPersistEvery, log)
	renderer := citation.NewRenderer(citation.WithPageLinks())

	apiHandler := api.NewAPIHandler(api.Services{
		Sessions:    sessionService,
		Analysis:    core.NewAnalysisService(sessions, view, gen, log),
		Chat:        core.NewChatService(sessions, view, gen, reconciler, renderer, log),
		Annotations: core.NewAnnotationService(sessions, view, gen, reconciler, config.AppConfig.ImageModel, log),
		ImageChat:   core.NewImageChatService(view, gen, reconciler, config.AppConfig.ImageModel, log),
		Share:       core.NewShareService(sessions, dbStore, shareGen, config.AppConfig.PublicAppURL, log),
		Credentials: keys,
		Renderer:    renderer,
	}, log)
	router := api.NewRouter(apiHandler, log)

	serverAddr := fmt.Sprintf(":%s", *port)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second, // uploads can be large
		// No WriteTimeout: chat replies are streamed for as long as the model talks.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exiting gracefully")
}

// seedAPIKey stores the environment key when no key has been entered yet.
func seedAPIKey(ctx context.Context, keys core.SlotKey, envKey string) error {
	if envKey == "" {
		return nil
	}
	has, err := keys.HasAPIKey(ctx)
	if err != nil || has {
		return err
	}
	return keys.SetAPIKey(ctx, envKey)
}
