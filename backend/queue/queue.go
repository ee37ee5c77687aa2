package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Producer is the publishing side of a queue. Publish sends one serialized
// message body to RabbitMQ and returns an error if the broker refuses it.
type Producer interface {
	Publish(body []byte) error
}

// Consumer is the reading side of a queue. Consume attaches to the queue and
// handles the delivery stream until the context is cancelled.
// Returns the stream of RabbitMQ Delivery and an error if there was a problem.
type Consumer interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// ProducerFactory creates Producers bound to an open connection, channel and
// declared queue. Returns the newly created Producer or an error.
type ProducerFactory interface {
	CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory creates Consumers bound to an open connection, channel and
// declared queue. Returns the newly created Consumer or an error.
type ConsumerFactory interface {
	CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue bundles the producers and consumers attached to one declared RabbitMQ
// queue. Publishing through the Queue rotates over its producers so that no
// single channel carries all the traffic.
type Queue struct {
	Name      string
	Producers []Producer
	Consumers []Consumer

	mu   sync.Mutex
	next int
}

// connect dials RabbitMQ, opens a channel in confirm mode and declares the
// named durable queue. A goroutine watches the connection; if the broker
// closes it mid-run, the backend goes down with it.
// Returns the connection, the channel, the declared queue, and an error if any
// step fails.
func connect(url string, queueName string) (*amqp.Connection, *amqp.Channel, *amqp.Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, nil, err
	}

	if err = ch.Confirm(false); err != nil {
		return nil, nil, nil, err
	}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return nil, nil, nil, err
	}

	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)

	go func() {
		if err := <-notifyClose; err != nil {
			logrus.WithError(err).WithField("queue", queueName).Fatal("RabbitMQ connection closed")
		}
	}()

	return conn, ch, &queue, nil
}

// InitQueue function initializes a Queue with producers and consumers.
// It accepts four arguments:
// - url: A string containing the URL of the RabbitMQ server.
// - queueName: A string containing the name of the durable queue to declare.
// - prodFactories: A slice of factories; one producer is created per entry.
// - consFactories: A slice of factories; one consumer is created per entry.
//
// The producers and consumers share a single connection and channel.
// The function returns the initialized Queue.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory) *Queue {
	conn, ch, declared, err := connect(url, queueName)
	if err != nil {
		logrus.WithError(err).Fatal("error connecting to RabbitMQ")
	}

	q := &Queue{Name: queueName}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(conn, ch, declared)
		if err != nil {
			logrus.WithError(err).Fatal("error creating producer")
		}
		q.Producers = append(q.Producers, producer)
	}

	for _, consFactory := range consFactories {
		consumer, err := consFactory.CreateConsumer(conn, ch, declared)
		if err != nil {
			logrus.WithError(err).Fatal("error creating consumer")
		}
		q.Consumers = append(q.Consumers, consumer)
	}

	return q
}

// Publish hands a message body to the next producer in round-robin order.
// It accepts a single argument:
// - body: A byte array containing the serialized message.
//
// The function returns an error if the queue has no producers or if the
// selected producer fails to publish.
func (q *Queue) Publish(body []byte) error {
	q.mu.Lock()
	if len(q.Producers) == 0 {
		q.mu.Unlock()
		return errors.New("no producers available")
	}
	producer := q.Producers[q.next%len(q.Producers)]
	q.next++
	q.mu.Unlock()

	return producer.Publish(body)
}

// StartConsumers starts every consumer of the queue in its own goroutine.
// It takes in a context as the first parameter, which allows the caller to control the lifetime of the consumers.
// If the context is cancelled the consumer goroutines drain and return.
// As an optional second parameter, the function accepts a duration. If provided, the consumers
// run under a derived context that expires after that duration.
// The returned cancel function belongs to the derived context (nil when no duration was given),
// and the returned WaitGroup can be used to wait for all consumers to finish.
func (q *Queue) StartConsumers(ctx context.Context, runFor ...time.Duration) (context.CancelFunc, *sync.WaitGroup, error) {
	var cancel context.CancelFunc
	if len(runFor) > 0 {
		ctx, cancel = context.WithTimeout(ctx, runFor[0])
	}

	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if _, err := c.Consume(ctx); err != nil {
				logrus.WithError(err).Error("error starting consumer")
				return
			}

			<-ctx.Done()
		}(consumer)
	}

	return cancel, &wg, nil
}
