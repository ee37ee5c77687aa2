package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	storage "github.com/jurijkreutz/determined/backend/storage/cache"
)

// Test variables
var (
	q          *Queue
	notifCache storage.CacheInterface
)

// TestMain is the main entry point for the tests.
// The suite needs live Redis and RabbitMQ instances; without REDIS_URL and
// RABBITMQ_URL it exits cleanly so the rest of the test run is unaffected.
func TestMain(m *testing.M) {
	// Load environment variables.
	godotenv.Load("../.env")

	redisUrl := os.Getenv("REDIS_URL")
	rabbitMQURL := os.Getenv("RABBITMQ_URL")

	if redisUrl == "" || rabbitMQURL == "" {
		fmt.Println("REDIS_URL or RABBITMQ_URL not set, skipping queue tests")
		os.Exit(0)
	}

	notifCache = InitNotificationCache(redisUrl)

	// Clear the cache before each run
	if err := notifCache.Clear(context.Background()); err != nil {
		log.Fatalf("Error clearing cache: %v", err)
	}

	q = BuildNotificationQueue(rabbitMQURL, 1, 3, notifCache)

	// Create a context that we'll use to stop the consumers
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// Create a WaitGroup to synchronize the consumers
	var wg sync.WaitGroup

	// Start consumers
	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if _, err := c.Consume(ctx); err != nil {
				log.Fatalf("Error starting consumer: %v", err)
			}

			<-ctx.Done()
		}(consumer)
	}

	exitVal := m.Run()

	cancel()
	wg.Wait()

	os.Exit(exitVal)
}

// waitForProcessedMark polls the cache until the notification id carries a
// processed mark or the deadline passes.
func waitForProcessedMark(t *testing.T, id string, deadline time.Duration) {
	t.Helper()

	waitUntil := time.Now().Add(deadline)
	for time.Now().Before(waitUntil) {
		processed, err := notifCache.Get(context.Background(), "notif_"+id)
		if err != nil && !errors.Is(err, storage.ErrCacheMiss) {
			t.Fatalf("Error checking cache: %v", err)
		}
		if processed != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Notification %s was never processed", id)
}

func TestNotificationRoundTrip(t *testing.T) {

	// Prepare one notification per streak boundary
	notifications := []*Notification{
		{
			Id:      "queue-test-1",
			Event:   EventStreakActive,
			Date:    "2024-03-12",
			Message: "Streak saved!",
		},
		{
			Id:      "queue-test-2",
			Event:   EventStreakPaused,
			Date:    "2024-03-13",
			Message: "Streak paused! Log a productive day in the next 24 hours to save it.",
		},
		{
			Id:      "queue-test-3",
			Event:   EventPenaltyApplied,
			Date:    "2024-03-14",
			Message: "2 missed to-do(s): -20 points.",
		},
	}

	for _, notification := range notifications {
		if err := ProcessNotification(notification, q); err != nil {
			t.Fatalf("Error publishing notification: %v", err)
		}
	}

	for _, notification := range notifications {
		waitForProcessedMark(t, notification.Id, 10*time.Second)
	}
}

func TestRedeliveredNotificationIsDiscarded(t *testing.T) {

	notification := &Notification{
		Id:      "queue-test-dedupe",
		Event:   EventBonusEarned,
		Date:    "2024-03-15",
		Message: "Recovery bonus earned.",
	}

	if err := ProcessNotification(notification, q); err != nil {
		t.Fatalf("Error publishing notification: %v", err)
	}
	waitForProcessedMark(t, notification.Id, 10*time.Second)

	// Publishing the same id again must leave the processed mark in place
	if err := ProcessNotification(notification, q); err != nil {
		t.Fatalf("Error republishing notification: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	processed, err := notifCache.Get(context.Background(), "notif_"+notification.Id)
	if err != nil {
		t.Fatalf("Error checking cache after republish: %v", err)
	}
	if processed == nil {
		t.Fatal("Processed mark disappeared after republish")
	}
}
