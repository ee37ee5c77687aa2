package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	storage "github.com/jurijkreutz/determined/backend/storage/cache"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Events published when a recompute crosses a streak boundary or a batch
// job changes a day record behind the user's back.
const (
	EventStreakActive   = "streak_active"
	EventStreakPaused   = "streak_paused"
	EventStreakReset    = "streak_reset"
	EventBonusEarned    = "bonus_earned"
	EventPenaltyApplied = "penalty_applied"
)

// NotificationProducerFactory builds NotificationProducer instances for the
// queue initializer.
type NotificationProducerFactory struct{}

// NotificationConsumerFactory builds NotificationConsumer instances. The
// Cache it carries is handed to every consumer it creates.
type NotificationConsumerFactory struct {
	Cache storage.CacheInterface
}

// NotificationProducer publishes streak notifications onto the AMQP queue.
type NotificationProducer struct {
	conn    *amqp.Connection // the connection to the AMQP broker
	channel *amqp.Channel    // the channel used for publishing messages
	queue   *amqp.Queue      // the queue to which messages will be sent
}

// NotificationConsumer reads streak notifications off the AMQP queue and
// delivers each one at most once, using the cache to spot redeliveries.
type NotificationConsumer struct {
	conn    *amqp.Connection       // the connection to the AMQP broker
	channel *amqp.Channel          // the channel used for consuming messages
	queue   *amqp.Queue            // the queue from which messages will be consumed
	cache   storage.CacheInterface // the cache for checking if a message has been processed
}

// Notification is the payload of one streak event message.
type Notification struct {
	Id      string `json:"id"`      // unique per event, used for deduplication
	Event   string `json:"event"`   // which boundary was crossed
	Date    string `json:"date"`    // the date the event belongs to
	Message string `json:"message"` // the user-facing text of the event
}

// CreateProducer instantiates a NotificationProducer on the given broker
// connection, channel and queue. The error return exists for future setup
// steps; today it is always nil.
func (f *NotificationProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &NotificationProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a NotificationConsumer on the given broker
// connection, channel and queue, with the factory's cache attached. As with
// CreateProducer, the error is always nil for now.
func (f *NotificationConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &NotificationConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
	}, nil
}

// Publish sends one serialized notification to the queue.
// It accepts a single argument:
// - body: the JSON-encoded notification.
//
// Returns an error if the underlying publish fails.
func (np *NotificationProducer) Publish(body []byte) error {
	err := np.channel.Publish(
		"",            // exchange
		np.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume registers a consumer on the queue and starts a goroutine that
// works through its deliveries until the context is cancelled. Every
// delivery is unmarshalled, checked against the dedupe cache and then
// either delivered (a structured log line, the place a real push channel
// would hang off of) or discarded as a duplicate. Malformed or transiently
// failing deliveries are nacked back onto the queue.
// Returns the delivery stream and an error if the consumer registration fails.
func (nc *NotificationConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := nc.channel.Consume(
		nc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				notification := &Notification{}
				if err := json.Unmarshal(d.Body, notification); err != nil {
					logrus.WithError(err).Error("failed to unmarshal notification")
					d.Nack(false, true) // transient: requeue
					continue
				}

				// A miss means the notification is new; any other cache
				// error leaves the delivery on the queue for a retry.
				processed, err := nc.cache.Get(ctx, "notif_"+notification.Id)
				if err != nil && !errors.Is(err, storage.ErrCacheMiss) {
					logrus.WithError(err).Error("error checking cache")
					d.Nack(false, true) // transient: requeue
					continue
				}

				if processed != nil {
					d.Ack(false)
					continue
				}

				logrus.WithFields(logrus.Fields{
					"event": notification.Event,
					"date":  notification.Date,
				}).Info(notification.Message)

				d.Ack(false)
				if err := nc.cache.Set(ctx, "notif_"+notification.Id, true); err != nil {
					logrus.WithError(err).Error("failed to set key in cache")
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// BuildNotificationQueue initializes the Queue carrying streak event
// notifications.
// It accepts four arguments:
// - rabbitMQURL: the URL of the RabbitMQ server.
// - numProducers: how many producers to create.
// - numConsumers: how many consumers to create.
// - notifCache: the cache used to deduplicate redelivered notifications.
//
// Returns the initialized Queue.
func BuildNotificationQueue(rabbitMQURL string, numProducers int, numConsumers int, notifCache storage.CacheInterface) *Queue {

	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &NotificationProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &NotificationConsumerFactory{Cache: notifCache}
	}

	return InitQueue(rabbitMQURL, "notificationQueue", prodFactories, consFactories)
}

// InitNotificationCache connects the cache the consumers deduplicate
// against. A cache that cannot be reached at startup is fatal, like the
// broker itself.
func InitNotificationCache(url string) storage.CacheInterface {
	c, err := storage.NewCache(url)
	if err != nil {
		logrus.WithError(err).Fatal("error connecting to cache")
	}
	return c
}

// ProcessNotification serializes a notification and hands it to the queue,
// which rotates the publish over its producers.
// It accepts two arguments:
// - notification: the Notification to publish.
// - notifQueue: the Queue to publish it on.
//
// Returns an error if marshalling or publishing fails.
func ProcessNotification(notification *Notification, notifQueue *Queue) error {

	body, err := json.Marshal(notification)
	if err != nil {
		return errors.New("failed to marshal notification: " + err.Error())
	}

	if err := notifQueue.Publish(body); err != nil {
		return errors.New("failed to publish notification: " + err.Error())
	}

	return nil
}
