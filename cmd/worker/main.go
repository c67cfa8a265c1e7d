package main

import (
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"textcast/internal/config"
	"textcast/internal/db"
	"textcast/internal/enrich"
	"textcast/internal/extract"
	"textcast/internal/fetch"
	"textcast/internal/logging"
	"textcast/internal/notify"
	"textcast/internal/pipeline"
	"textcast/internal/reader"
	"textcast/internal/storage"
	"textcast/internal/tts"
	"textcast/internal/worker"
	"textcast/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

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

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()

	fetcher := fetch.New(fetch.Options{
		MaxBytes:   cfg.MaxFetchBytes,
		Timeout:    cfg.HTTPTimeout,
		DNSTimeout: cfg.DNSTimeout,
		Logger:     log.WithField("component", "fetch"),
	})
	extractor := extract.New(int(cfg.MaxFetchBytes), cfg.MinContentLength, log.WithField("component", "extract"))
	readerClient := reader.New(cfg.ReaderBaseURL, cfg.MaxFetchBytes, cfg.HTTPTimeout, log.WithField("component", "reader"))
	enricher := enrich.New(enrich.Options{
		Endpoint: cfg.LLMEndpoint,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		MaxChars: cfg.MaxEnrichChars,
		Limits: enrich.FieldLimits{
			Title:       cfg.MaxTitleLength,
			Author:      cfg.MaxAuthorLength,
			Description: cfg.MaxDescriptionLength,
		},
		Recorder: enrich.DBUsageRecorder{},
		Logger:   log.WithField("component", "enrich"),
	})
	ttsClient := tts.NewClient(
		tts.NewHTTPProvider(cfg.TTSEndpoint, cfg.TTSAPIKey, cfg.TTSTimeout),
		cfg.TTSMaxRetries,
		log.WithField("component", "tts"),
	)
	synth := tts.NewSynthesizer(ttsClient, cfg.TTSByteLimit, cfg.TTSWorkers, log.WithField("component", "tts"))
	store := storage.NewLocal(cfg.AudioStoragePath, cfg.BaseURL+"/audio")

	var notifier notify.Notifier = notify.NopNotifier{}
	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		tg, err := notify.NewTelegramNotifier(botToken, log)
		if err != nil {
			log.WithError(err).Fatal("Could not initialize telegram notifier")
		}
		notifier = tg
	}

	p := pipeline.New(
		fetcher, extractor, readerClient, enricher, synth, store, notifier, client,
		pipeline.Limits{
			LowQualityChars:        cfg.LowQualityChars,
			LowQualityHTMLMinBytes: cfg.LowQualityHTMLMinBytes,
			CharacterLimitFor:      config.CharacterLimitFor,
		},
		log,
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			// One episode at a time; TTS chunking provides the parallelism.
			Concurrency: 1,
			Queues: map[string]int{
				"high":    2,
				"default": 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := 1 * time.Minute
				maxDelay := 1 * time.Hour
				for i := 0; i < n; i++ {
					delay *= 2
					if delay > maxDelay {
						delay = maxDelay
						break
					}
				}
				log.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"failures":  n + 1,
					"delay":     delay.String(),
				}).Warn("Task failed, scheduling retry")
				return delay
			},
		},
	)

	srvMux := asynq.NewServeMux()
	taskHandler := worker.NewTaskHandler(p, log)
	srvMux.HandleFunc(tasks.TypeProcessEpisode, taskHandler.HandleProcessEpisodeTask)
	srvMux.HandleFunc(tasks.TypeRefitEstimate, taskHandler.HandleRefitEstimateTask)

	log.WithField("commit", CommitSHA).Info("Worker starting")
	if err := srv.Run(srvMux); err != nil {
		log.WithError(err).Fatal("Could not run worker")
	}
}
