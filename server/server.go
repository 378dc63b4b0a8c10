package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/troylu8/chuuni-keys-server/config"
	"github.com/troylu8/chuuni-keys-server/core/audio"
	"github.com/troylu8/chuuni-keys-server/core/chart"
	"github.com/troylu8/chuuni-keys-server/db"
	"github.com/troylu8/chuuni-keys-server/logger"
	"github.com/troylu8/chuuni-keys-server/repository"
	"github.com/troylu8/chuuni-keys-server/storage"
)

// Start initializes dependencies and runs the HTTP server until interrupted.
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})

	conn, err := db.Connect(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer conn.Close()

	if err := db.InitSchema(conn); err != nil {
		logger.Fatal("failed to initialize database schema", logger.ErrorField(err))
	}

	ensureDirExists(cfg.ChartsDir)

	repo := repository.NewSQLiteChartRepository(conn)
	assets := storage.NewAssetStore(cfg.ChartsDir)
	previewer := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.PreviewSeconds, cfg.PreviewBitrate)
	service := chart.NewService(repo, assets, previewer)
	handler := NewChartHandler(service, cfg)

	router := newRouter(handler)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("server stopped")
}

// newRouter wires the chart routes and middleware.
func newRouter(handler *ChartHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware, loggingMiddleware)

	router.HandleFunc("/charts/download/{id}", handler.DownloadChartHandler).Methods(http.MethodGet)
	router.HandleFunc("/charts/{page:[0-9]+}", handler.GetChartsHandler).Methods(http.MethodGet)
	router.HandleFunc("/charts", handler.UploadChartHandler).Methods(http.MethodPost)
	router.HandleFunc("/charts/{id}", handler.UpdateChartHandler).Methods(http.MethodPatch)
	router.HandleFunc("/charts/{id}", handler.DeleteChartHandler).Methods(http.MethodDelete)

	return router
}

// corsMiddleware allows cross-origin requests from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request with a generated request id.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Info("request handled",
			logger.String("requestId", requestID),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("elapsed", time.Since(start)),
		)
	})
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}
