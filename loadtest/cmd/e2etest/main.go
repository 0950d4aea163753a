// Package main implements a standalone end-to-end integration test for the
// Talkline messaging server. It validates the full user journey against a
// running Docker Compose stack: health checks, authenticated WebSocket
// connects, message exchange with fanout to both participants, seen receipts,
// sidebar summaries, presence broadcasts, and content filtering.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/talkline/messenger/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

var jwtSecret []byte

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret shared with the server")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "e2etest: -secret or JWT_SECRET is required")
		os.Exit(1)
	}
	jwtSecret = []byte(*secret)

	fmt.Println("=== Talkline E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult

	// Run scenarios sequentially.
	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2AuthRejection(ctx, *wsURL))

	// Scenarios 3-5 share a connected pair; run them as a group.
	s3, s4, s5 := scenario345MessageSeenPresence(ctx, *wsURL)
	results = append(results, s3, s4, s5)

	// Optional scenarios (non-fatal).
	results = append(results, scenario6ContentFiltering(ctx, *wsURL))

	// ---------------------------------------------------------------------------
	// Summary
	// ---------------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// connect mints a token for userID, dials, and waits for the online-user
// broadcast proving the connection is live.
func connect(ctx context.Context, wsURL, userID string) (*client.Client, error) {
	token, err := client.MintToken(jwtSecret, userID, time.Hour)
	if err != nil {
		return nil, err
	}
	c, err := client.New(ctx, wsURL, userID, token)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.WaitReady(connCtx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// waitFor blocks until ch delivers or the timeout elapses.
func waitFor(ch <-chan json.RawMessage, timeout time.Duration) (json.RawMessage, bool) {
	select {
	case data := <-ch:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: health check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Health check"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/health", nil)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scenarioResult{name, resultFail, fmt.Sprintf("status %d", resp.StatusCode)}
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		return scenarioResult{name, resultFail, "unexpected body: " + string(body)}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: authentication
// ---------------------------------------------------------------------------

func scenario2AuthRejection(ctx context.Context, wsURL string) scenarioResult {
	name := "Auth: bad token rejected, good token accepted"

	// A garbage token must be rejected before the upgrade completes.
	badCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	bad, err := client.New(badCtx, wsURL, "e2e-bad", "not-a-token")
	cancel()
	if err == nil {
		// Some proxies complete the upgrade and then drop; treat any event
		// arriving as the real failure.
		readyCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		readyErr := bad.WaitReady(readyCtx)
		cancel()
		bad.Close()
		if readyErr == nil {
			return scenarioResult{name, resultFail, "server accepted an invalid token"}
		}
	}

	good, err := connect(ctx, wsURL, "e2e-auth")
	if err != nil {
		return scenarioResult{name, resultFail, "valid token rejected: " + err.Error()}
	}
	good.Close()

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenarios 3-5: messaging, seen receipts, presence
// ---------------------------------------------------------------------------

func scenario345MessageSeenPresence(ctx context.Context, wsURL string) (s3, s4, s5 scenarioResult) {
	s3 = scenarioResult{name: "Messaging: fanout reaches both participants"}
	s4 = scenarioResult{name: "Seen receipts and sidebar summaries"}
	s5 = scenarioResult{name: "Presence: disconnect broadcast"}

	fail := func(r *scenarioResult, detail string) {
		r.kind = resultFail
		r.detail = detail
	}

	alice, err := connect(ctx, wsURL, "e2e-alice")
	if err != nil {
		fail(&s3, "alice connect: "+err.Error())
		fail(&s4, "skipped")
		fail(&s5, "skipped")
		return
	}
	defer alice.Close()

	aliceMessages := make(chan json.RawMessage, 8)
	alice.On(client.EventMessage, func(data json.RawMessage) { aliceMessages <- data })
	aliceSidebar := make(chan json.RawMessage, 8)
	alice.On(client.EventConversation, func(data json.RawMessage) { aliceSidebar <- data })
	aliceOnline := make(chan json.RawMessage, 8)
	alice.On(client.EventOnlineUser, func(data json.RawMessage) { aliceOnline <- data })

	bob, err := connect(ctx, wsURL, "e2e-bob")
	if err != nil {
		fail(&s3, "bob connect: "+err.Error())
		fail(&s4, "skipped")
		fail(&s5, "skipped")
		return
	}
	defer bob.Close()

	bobMessages := make(chan json.RawMessage, 8)
	bob.On(client.EventMessage, func(data json.RawMessage) { bobMessages <- data })

	// --- Scenario 3: send a message, both sides get the refreshed list. ---
	text := fmt.Sprintf("e2e message %d", time.Now().UnixNano())
	if err := alice.SendMessage("e2e-bob", text); err != nil {
		fail(&s3, "send: "+err.Error())
	} else {
		ok := true
		for side, ch := range map[string]chan json.RawMessage{"alice": aliceMessages, "bob": bobMessages} {
			data, got := waitFor(ch, 10*time.Second)
			if !got {
				fail(&s3, side+" never received the message list")
				ok = false
				break
			}
			var list []struct {
				Text        string `json:"text"`
				MsgByUserID string `json:"msgByUserId"`
			}
			if err := json.Unmarshal(data, &list); err != nil || len(list) == 0 {
				fail(&s3, side+" got an unusable message list")
				ok = false
				break
			}
			last := list[len(list)-1]
			if last.Text != text || last.MsgByUserID != "e2e-alice" {
				fail(&s3, side+" list does not end with the sent message")
				ok = false
				break
			}
		}
		if ok {
			s3.kind = resultPass
		}
	}

	// --- Scenario 4: bob marks the thread seen; alice's sidebar refreshes. ---
	drain(aliceSidebar)
	if err := bob.Send(client.EventSeen, map[string]string{"userId": "e2e-alice"}); err != nil {
		fail(&s4, "seen: "+err.Error())
	} else if data, got := waitFor(aliceSidebar, 10*time.Second); !got {
		fail(&s4, "alice's sidebar never refreshed after seen")
	} else {
		var sidebar []struct {
			PeerID      string `json:"peerId"`
			PeerOnline  bool   `json:"peerOnline"`
			UnseenCount int    `json:"unseenCount"`
		}
		if err := json.Unmarshal(data, &sidebar); err != nil || len(sidebar) == 0 {
			fail(&s4, "unusable sidebar payload")
		} else {
			found := false
			for _, entry := range sidebar {
				if entry.PeerID == "e2e-bob" && entry.PeerOnline {
					found = true
				}
			}
			if !found {
				fail(&s4, "sidebar missing online peer e2e-bob")
			} else {
				s4.kind = resultPass
			}
		}
	}

	// --- Scenario 5: closing bob's connection broadcasts the new roster. ---
	drain(aliceOnline)
	bob.Close()
	deadline := time.After(10 * time.Second)
	for s5.kind != resultPass {
		data, got := waitFor(aliceOnline, 2*time.Second)
		if !got {
			select {
			case <-deadline:
				fail(&s5, "no onlineUser broadcast without e2e-bob")
				return
			default:
				continue
			}
		}
		var roster []string
		if err := json.Unmarshal(data, &roster); err != nil {
			continue
		}
		gone := true
		for _, id := range roster {
			if id == "e2e-bob" {
				gone = false
			}
		}
		if gone {
			s5.kind = resultPass
		}
	}
	return
}

func drain(ch chan json.RawMessage) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario 6: content filtering (optional; depends on server filter config)
// ---------------------------------------------------------------------------

func scenario6ContentFiltering(ctx context.Context, wsURL string) scenarioResult {
	name := "Content filtering (optional)"

	sender, err := connect(ctx, wsURL, "e2e-filter-a")
	if err != nil {
		return scenarioResult{name, resultInfo, "connect: " + err.Error()}
	}
	defer sender.Close()

	errs := make(chan json.RawMessage, 4)
	sender.On(client.EventError, func(data json.RawMessage) { errs <- data })

	// A spam pattern the default filter blocks regardless of term list.
	if err := sender.SendMessage("e2e-filter-b", "free crypto at bit.ly/x9z2 claim now"); err != nil {
		return scenarioResult{name, resultInfo, "send: " + err.Error()}
	}

	data, got := waitFor(errs, 5*time.Second)
	if !got {
		return scenarioResult{name, resultInfo, "no error event; filter may be disabled"}
	}
	var e struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Code != "blocked" {
		return scenarioResult{name, resultInfo, "unexpected error payload"}
	}
	return scenarioResult{name, resultPass, ""}
}
