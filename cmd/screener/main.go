package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cbc-screen/internal/cfg"
	"cbc-screen/internal/metrics"
	"cbc-screen/internal/ml"
	"cbc-screen/internal/storage"
	"cbc-screen/internal/web"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	closeLog := setupLogging(c)
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	model, err := ml.LoadModel(c.ModelPath)
	if err != nil {
		m.SetModel(false, 0)
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model load failed")
	}
	m.SetModel(true, model.Age())

	labels, err := c.LabelTable()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid class labels")
	}
	formatter, err := ml.NewFormatter(model, labels, ml.WithCache(c.CacheSize), ml.WithMetrics(mw))
	if err != nil {
		log.Fatal().Err(err).Msg("model and labels do not match")
	}
	defaults, err := c.DefaultVector()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid profile defaults")
	}

	log.Info().
		Str("model", c.ModelPath).
		Str("version", model.Metadata.Version).
		Str("objective", model.Objective()).
		Str("labels", labels.String()).
		Str("profile", c.Profile.Name).
		Msg("model loaded")

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	onHistoryError := func(error) {
		mw.HistoryErrors().Inc()
	}

	r := mux.NewRouter()
	apiConfig := ml.ServerConfig{
		Profile:        c.Profile.Name,
		Defaults:       defaults,
		Timeout:        c.WriteTimeout,
		OnHistoryError: onHistoryError,
	}
	webConfig := web.Config{
		Profile:        c.Profile,
		Defaults:       defaults,
		ModelVersion:   model.Metadata.Version,
		HistorySize:    c.HistorySize,
		Timeout:        c.WriteTimeout,
		FormErrors:     mw.FormErrors(),
		OnHistoryError: onHistoryError,
	}
	if store != nil {
		apiConfig.Recorder = store
		webConfig.History = store
	}
	ml.NewModelServer(formatter, model, apiConfig).Register(r)
	web.NewServer(formatter, webConfig).Register(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	startModelAgeTicker(ctx, model, mw.ModelAge())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           web.RequestLogger(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Int("port", c.Port).Str("title", c.Profile.Title).Msg("screening service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, server)
}

// setupLogging applies the configured level and format and, when a log file
// is set, tees output into a rotating file. The returned func closes the file.
func setupLogging(c cfg.Settings) func() {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if c.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	closeFn := func() {}
	if c.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotator)
		closeFn = func() { rotator.Close() }
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closeFn
}

// initializeStorage opens the screening history if DATA_PATH is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if !c.HistoryEnabled() {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without history")
		return nil
	}
	return store
}

// startModelAgeTicker keeps the model age gauge current.
func startModelAgeTicker(ctx context.Context, model *ml.Model, gauge metrics.MetricsGauge) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gauge.Set(model.Age().Seconds())
			}
		}
	}()
}

// waitForShutdown blocks until a signal or a server failure, then drains
// in-flight requests.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
