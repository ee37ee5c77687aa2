package backend

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jurijkreutz/determined/backend/backup"
	"github.com/jurijkreutz/determined/backend/config"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/jobs"
	"github.com/jurijkreutz/determined/backend/queue"
	"github.com/jurijkreutz/determined/backend/quests"
	"github.com/jurijkreutz/determined/backend/server"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
	"github.com/jurijkreutz/determined/backend/todos"
	"github.com/sirupsen/logrus"
)

// RunBackend is the main function that sets up and runs the backend server.
// It wires storage, the point engine, the todo and quest services, the
// nightly jobs and the REST server, then blocks until the process is
// interrupted.
func RunBackend() {

	// Load the .env file and the environment on top of it.
	cfg, err := config.Load("backend/.env")
	if err != nil {
		logrus.WithError(err).Fatal("error loading configuration")
	}

	// All day boundaries are evaluated in the configured timezone.
	if err := dates.InitDates(cfg.Timezone); err != nil {
		logrus.WithError(err).Fatal("error setting timezone")
	}

	// An empty Mongo URI selects the in-memory store. Nothing survives a
	// restart in that mode; it exists for demos and local poking around.
	var store storage.StorageInterface
	if cfg.MongoURI == "" {
		logrus.Warn("MONGODB_URI is not set, running with in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		store, err = storage.NewStorage(cfg.DBName, cfg.MongoURI)
		if err != nil {
			logrus.WithError(err).Fatal("error connecting to storage")
		}
	}

	ctx := context.Background()

	// Build the notification queue unless it is switched off. Redis carries
	// the dedupe keys in front of the consumers and doubles as the engine's
	// day-snapshot cache.
	var notifQueue *queue.Queue
	if cfg.DisableQueue {
		logrus.Info("notification queue disabled")
	} else {
		notifCache := queue.InitNotificationCache(cfg.RedisURL)
		engine.InitDayCache(notifCache)
		notifQueue = queue.BuildNotificationQueue(cfg.RabbitMQURL, cfg.NotifProducers, cfg.NotifConsumers, notifCache)

		if _, _, err := notifQueue.StartConsumers(ctx); err != nil {
			logrus.WithError(err).Fatal("error starting queue consumers")
		}
	}

	// Initialize the services on top of the shared store.
	engine.InitEngine(store, notifQueue, cfg.EveningCutoffHour)
	todos.InitTodos(store)
	quests.InitQuests(store, cfg.EveningCutoffHour)
	backup.InitBackup(store)

	// Schedule the nightly rollover and penalty jobs.
	jobs.InitJobs(store, notifQueue, cfg.PenaltyPoints)
	if err := jobs.Start(cfg.RolloverCronSpec, cfg.PenaltyCronSpec); err != nil {
		logrus.WithError(err).Fatal("error starting scheduled jobs")
	}

	// Start the core server
	go server.Start(cfg.ServerAddr)

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	logrus.WithField("signal", sig.String()).Info("shutting down")

	jobs.Stop()
	if err := store.Disconnect(); err != nil {
		logrus.WithError(err).Error("error disconnecting storage")
	}
	os.Exit(0)
}
