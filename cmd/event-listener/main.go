package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avelartours/capacity-engine/internal/adapters/rabbit"
	"github.com/avelartours/capacity-engine/internal/config"
	"github.com/avelartours/capacity-engine/internal/observability"
)

// Tails hold lifecycle events for ops. Every event the outbox relay
// publishes lands here with its routing key, so reconciling the store
// against downstream consumers is a log grep.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "capacity.audit.q", "hold.*")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	go func() {
		for d := range deliveries {
			logger.WithField("routing_key", d.RoutingKey).
				WithField("message_id", d.MessageId).
				Info(string(d.Body))
			d.Ack(false)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown event listener")
}
