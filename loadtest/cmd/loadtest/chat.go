package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/talkline/messenger/loadtest/client"
	"github.com/talkline/messenger/loadtest/stats"
)

// runChat implements the messaging load test. It connects pairs of users and
// has each pair exchange a fixed number of messages. The send-to-fanout
// latency is measured on the sender side: the engine pushes the refreshed
// message list to both participants, so the sender's own `message` event marks
// the completion of persistence plus fanout.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape (e.g. http://localhost:9090/metrics)")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "JWT secret shared with the server")
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	messages := fs.Int("messages", 10, "Messages each sender sends per pair")
	think := fs.Duration("think", 200*time.Millisecond, "Delay between messages from the same sender")
	concurrency := fs.Int("concurrency", 25, "Maximum pairs running simultaneously")
	fs.Parse(args)

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "chat: -secret or JWT_SECRET is required")
		os.Exit(1)
	}

	fmt.Printf("Chat test: %d pairs x %d messages to %s (think=%s, concurrency=%d)\n",
		*pairs, *messages, *url, *think, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	for i := 0; i < *pairs; i++ {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				defer func() { <-sem }()
				runPair(ctx, collector, *url, *secret, n, *messages, *think)
			}(i)
			continue
		}
		break
	}

	wg.Wait()
	collector.Report()
}

// runPair drives one sender/receiver pair through the messaging flow.
func runPair(ctx context.Context, collector *stats.Collector, url, secret string, n, messages int, think time.Duration) {
	senderID := fmt.Sprintf("chat-a-%05d", n)
	receiverID := fmt.Sprintf("chat-b-%05d", n)

	sender := connectUser(ctx, collector, url, secret, senderID)
	if sender == nil {
		return
	}
	defer sender.Close()

	receiver := connectUser(ctx, collector, url, secret, receiverID)
	if receiver == nil {
		return
	}
	defer receiver.Close()

	// The sender's own message event signals a completed round trip.
	fanout := make(chan struct{}, 1)
	sender.On(client.EventMessage, func(json.RawMessage) {
		select {
		case fanout <- struct{}{}:
		default:
		}
	})

	var received int
	var mu sync.Mutex
	receiver.On(client.EventMessage, func(json.RawMessage) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	for i := 0; i < messages; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		if err := sender.SendMessage(receiverID, fmt.Sprintf("load message %d", i)); err != nil {
			collector.AddError()
			return
		}

		select {
		case <-fanout:
			collector.AddMsgLatency(time.Since(start))
		case <-time.After(10 * time.Second):
			collector.AddError()
			return
		case <-ctx.Done():
			return
		}

		time.Sleep(think)
	}

	// Receiver acknowledges the thread, exercising the seen flow.
	_ = receiver.Send(client.EventSeen, map[string]string{"userId": senderID})

	mu.Lock()
	got := received
	mu.Unlock()
	if got == 0 {
		// Fanout reached the sender but never the receiver.
		collector.AddError()
	}
}

// connectUser mints a token, dials, and waits for the connection to go live.
// A nil return means the failure was already recorded.
func connectUser(ctx context.Context, collector *stats.Collector, url, secret, userID string) *client.Client {
	token, err := client.MintToken([]byte(secret), userID, time.Hour)
	if err != nil {
		collector.AddError()
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, url, userID, token)
	if err != nil {
		collector.AddError()
		return nil
	}
	if err := c.WaitReady(connCtx); err != nil {
		collector.AddError()
		c.Close()
		return nil
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)
	return c
}
