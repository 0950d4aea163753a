package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talkline/messenger/internal/chat"
	"github.com/talkline/messenger/internal/messaging"
)

// pendingPrefix keys the per-user unread notification counter. A delivery
// pipeline (email digest, push) drains these; the notifier only accumulates.
const (
	pendingPrefix = "notify:pending:"
	pendingTTL    = 7 * 24 * time.Hour
)

func main() {
	log.Println("Starting Talkline notifier service...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "talkline-notifier"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Accumulate a pending-notification counter for receivers with no live
	// connection at send time. Online receivers already saw the fanout.
	err = natsClient.SubscribeMessageCreated(func(data []byte) {
		var event chat.MessageCreatedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[notifier] failed to unmarshal message.created: %v", err)
			return
		}
		if event.ReceiverOnline {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		key := pendingPrefix + event.ReceiverID
		pipe := rdb.Pipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, pendingTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[notifier] failed to record pending for user=%s: %v", event.ReceiverID, err)
			return
		}
		log.Printf("[notifier] pending user=%s from=%s count=%d media=%v",
			event.ReceiverID, event.AuthorID, incr.Val(), event.HasMedia)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to message.created: %v", err)
	}

	// A user coming online has caught up; drop their counter.
	err = natsClient.SubscribePresenceChanged(func(data []byte) {
		var event chat.PresenceChangedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[notifier] failed to unmarshal presence.changed: %v", err)
			return
		}
		if !event.Online {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Del(ctx, pendingPrefix+event.UserID).Err(); err != nil {
			log.Printf("[notifier] failed to clear pending for user=%s: %v", event.UserID, err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to presence.changed: %v", err)
	}

	log.Printf("Talkline notifier service running")
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	rdb.Close()
}
