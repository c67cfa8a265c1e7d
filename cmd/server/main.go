package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"textcast/internal/config"
	"textcast/internal/db"
	"textcast/internal/handlers"
	"textcast/internal/logging"
	"textcast/internal/middleware"
	"textcast/internal/storage"
)

func main() {
	log := logging.New()

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	db.InitDB()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()

	store := storage.NewLocal(cfg.AudioStoragePath, cfg.BaseURL+"/audio")

	h := handlers.New(client, store, handlers.Limits{
		MinContentLength:  cfg.MinContentLength,
		CharacterLimitFor: config.CharacterLimitFor,
	}, cfg.DefaultVoice, os.Getenv("INBOUND_EMAIL_TOKEN"), log)

	r := mux.NewRouter()

	// Public: podcast apps fetch these with the feed UUID as the only secret.
	r.HandleFunc("/feeds/{uuid}", h.GetRSSFeed).Methods(http.MethodGet)
	r.HandleFunc("/audio/{uuid}", h.ServeAudioFile).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/email", h.PostInboundEmail).Methods(http.MethodPost)

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.AuthMiddleware(log))
	api.Use(middleware.NewRateLimiterMiddleware(rate.Limit(1), 5).Middleware)
	api.HandleFunc("/episodes", h.PostEpisode).Methods(http.MethodPost)
	api.HandleFunc("/episodes", h.GetEpisodes).Methods(http.MethodGet)
	api.HandleFunc("/episodes/{id}", h.GetEpisode).Methods(http.MethodGet)
	api.HandleFunc("/eta", h.GetETA).Methods(http.MethodGet)

	log.WithField("port", port).Info("Starting server")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
