package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mealmesh/fulfillment/internal/repository"
	"github.com/mealmesh/fulfillment/internal/storage"
)

const groupID = "fulfillment-audit-consumer-group"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brokers := []string{"localhost:9092"}
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	log.Printf("Starting audit consumer on brokers %v", brokers)

	var wg sync.WaitGroup
	for _, topic := range []string{storage.TopicOrderTransitions, storage.TopicFetchAudit} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consumeTopic(ctx, brokers, topic)
		}(topic)
	}
	wg.Wait()

	log.Println("Audit consumer stopped")
}

func consumeTopic(ctx context.Context, brokers []string, topic string) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("Error closing reader for %s: %v", topic, err)
		}
	}()

	log.Printf("Consumer connected to topic '%s'", topic)

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading from %s: %v", topic, err)
			time.Sleep(5 * time.Second)
			continue
		}
		logMessage(topic, m)
	}
}

func logMessage(topic string, m kafka.Message) {
	switch topic {
	case storage.TopicOrderTransitions:
		var p repository.TransitionPayload
		if err := json.Unmarshal(m.Value, &p); err != nil {
			log.Printf("[%s] undecodable message at offset %d: %v", topic, m.Offset, err)
			return
		}
		log.Printf("[%s] order=%s action=%s %s->%s by %s:%s at %s",
			topic, p.OrderID, p.Action, p.OldStatus, p.NewStatus,
			p.ActorRole, p.ActorID, p.At.Format(time.RFC3339))
	case storage.TopicFetchAudit:
		log.Printf("[%s] offset=%d %s", topic, m.Offset, string(m.Value))
	default:
		log.Printf("[%s] offset=%d key=%s value=%s", topic, m.Offset, string(m.Key), string(m.Value))
	}
}
