// Command finplay runs the headless playback session engine: it negotiates
// playback against a Jellyfin-compatible media server and exposes a local
// HTTP control API.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"finplay/api"
	"finplay/handlers"
	"finplay/internal/config"
	"finplay/internal/database"
	"finplay/internal/hls"
	"finplay/internal/jellyfin"
	"finplay/services/episodes"
	"finplay/services/history"
	"finplay/services/selection"
	"finplay/services/session"
	"finplay/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}

	db, err := database.NewDB(database.Config{
		DatabasePath: filepath.Join(cfg.StorageDir, "finplay.db"),
	})
	if err != nil {
		log.Fatalf("[main] database: %v", err)
	}
	defer db.Close()

	selections, err := selection.NewService(cfg.StorageDir)
	if err != nil {
		log.Fatalf("[main] selection store: %v", err)
	}
	if cfg.PreferredAudioLanguage != "" {
		if err := selections.SetPreferredAudioLanguage(cfg.PreferredAudioLanguage); err != nil {
			log.Printf("[main] set preferred audio language: %v", err)
		}
	}

	client := jellyfin.New(cfg.ServerURL, cfg.APIToken, cfg.UserID)
	historySvc := history.NewService(database.NewHistoryRepository(db.Connection()))

	manager := session.NewManager(client, selections, historySvc,
		func() hls.Pipeline { return hls.NewManifestPipeline(nil) },
		session.Options{CueFallback: cfg.CueFallbackDuration},
	)

	resolver := episodes.NewResolver(client)
	autoplay := episodes.NewAutoplay(resolver, manager, cfg.AutoAdvanceDelay)
	go autoplay.Run()

	playbackHandler := handlers.NewPlaybackHandler(manager)
	playbackHandler.SetAutoplay(autoplay)
	episodesHandler := handlers.NewEpisodesHandler(resolver)
	historyHandler := handlers.NewHistoryHandler(historySvc)

	router := utils.NewRouter()
	control := router.PathPrefix("/api").Subrouter()
	control.Use(api.ControlAuthMiddleware(cfg.ControlToken))

	// Track switches rebuild the pipeline; keep them behind a limiter.
	limiter := api.NewIPRateLimiter(rate.Every(time.Second), 5)
	mutating := control.PathPrefix("/playback").Subrouter()
	mutating.Use(limiter.Middleware())
	mutating.HandleFunc("/start", playbackHandler.Start).Methods(http.MethodPost)
	mutating.HandleFunc("/pause", playbackHandler.Pause).Methods(http.MethodPost)
	mutating.HandleFunc("/resume", playbackHandler.Resume).Methods(http.MethodPost)
	mutating.HandleFunc("/seek", playbackHandler.Seek).Methods(http.MethodPost)
	mutating.HandleFunc("/stop", playbackHandler.Stop).Methods(http.MethodPost)
	mutating.HandleFunc("/tracks/audio", playbackHandler.SwitchAudio).Methods(http.MethodPost)
	mutating.HandleFunc("/tracks/subtitle", playbackHandler.SwitchSubtitle).Methods(http.MethodPost)
	mutating.HandleFunc("/quality", playbackHandler.SwitchQuality).Methods(http.MethodPost)
	mutating.HandleFunc("/subtitle-file", playbackHandler.UploadSubtitle).Methods(http.MethodPost)
	mutating.HandleFunc("/subtitle-offset", playbackHandler.SubtitleOffset).Methods(http.MethodPost)

	control.HandleFunc("/playback/status", playbackHandler.Status).Methods(http.MethodGet)
	control.HandleFunc("/episodes/adjacent", episodesHandler.Adjacent).Methods(http.MethodGet)
	control.HandleFunc("/history", historyHandler.Recent).Methods(http.MethodGet)
	control.HandleFunc("/version", handlers.NewVersionHandler().GetVersion).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("[main] control API listening on %s (server %s)", cfg.ListenAddr, cfg.ServerURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[main] shutting down")
	autoplay.Stop()
	// End the active session so the server gets a final stop report and the
	// local history records the position.
	manager.End()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}
