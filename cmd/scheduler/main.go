package main

import (
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"textcast/internal/db"
	"textcast/internal/logging"
	"textcast/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	log := logging.New()

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file loaded")
	}

	db.InitDB()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddr},
		&asynq.SchedulerOpts{},
	)

	task, err := tasks.NewRefitEstimateTask()
	if err != nil {
		log.WithError(err).Fatal("Could not create refit task")
	}

	// Periodic safety net; completions also enqueue a refit directly.
	if _, err := scheduler.Register("@every 6h", task); err != nil {
		log.WithError(err).Fatal("Could not register refit task")
	}

	log.WithField("commit", CommitSHA).Info("Scheduler starting")
	if err := scheduler.Run(); err != nil {
		log.WithError(err).Fatal("Could not run scheduler")
	}
}
