package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("msgs", 20, "messages per user")
	interval = flag.Duration("interval", 10*time.Millisecond, "pause between sends")
	settle   = flag.Duration("settle", 2*time.Second, "how long to wait for trailing pushes")
)

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type stats struct {
	sent, acked, received, errors atomic.Int64
}

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages each", *pairs*2, *msgCount)

	var st stats
	var wg sync.WaitGroup
	start := time.Now()

	// User 2i talks to user 2i+1.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID, &st)
		}(i)
	}
	wg.Wait()

	expected := int64(*pairs * 2 * *msgCount)
	log.Printf("done in %s: sent=%d acked=%d received=%d errors=%d expected=%d",
		time.Since(start).Round(time.Millisecond),
		st.sent.Load(), st.acked.Load(), st.received.Load(), st.errors.Load(), expected)
}

func runPair(pairID int, st *stats) {
	run := uuid.NewString()[:8]
	var a, b *authResponse
	var g errgroup.Group
	g.Go(func() (err error) {
		a, err = register(fmt.Sprintf("lt-%s-%d-a@loadtest.local", run, pairID))
		return err
	})
	g.Go(func() (err error) {
		b, err = register(fmt.Sprintf("lt-%s-%d-b@loadtest.local", run, pairID))
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("register failed: %v", err)
		return
	}

	connA, err := dial(a.Token)
	if err != nil {
		log.Printf("ws connect failed: %v", err)
		return
	}
	defer connA.Close()
	connB, err := dial(b.Token)
	if err != nil {
		log.Printf("ws connect failed: %v", err)
		return
	}
	defer connB.Close()

	var readers sync.WaitGroup
	readers.Add(2)
	go listen(&readers, connA, st)
	go listen(&readers, connB, st)

	var senders sync.WaitGroup
	senders.Add(2)
	go spam(&senders, connA, b.User.ID, st)
	go spam(&senders, connB, a.User.ID, st)
	senders.Wait()

	time.Sleep(*settle)
	_ = connA.Close()
	_ = connB.Close()
	readers.Wait()
}

func register(email string) (*authResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"name":            strings.Split(email, "@")[0],
		"email":           email,
		"password":        "password123",
		"confirmPassword": "password123",
	})
	resp, err := http.Post(*baseURL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("register %s: status %d", email, resp.StatusCode)
	}
	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func dial(token string) (*websocket.Conn, error) {
	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

func spam(wg *sync.WaitGroup, conn *websocket.Conn, to string, st *stats) {
	defer wg.Done()
	for i := 0; i < *msgCount; i++ {
		err := conn.WriteJSON(map[string]any{
			"event": "send_message",
			"data": map[string]string{
				"recipient": to,
				"content":   fmt.Sprintf("load test message %d", i),
			},
		})
		if err != nil {
			st.errors.Add(1)
			return
		}
		st.sent.Add(1)
		time.Sleep(*interval)
	}
}

func listen(wg *sync.WaitGroup, conn *websocket.Conn, st *stats) {
	defer wg.Done()
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Event {
		case "message_sent":
			st.acked.Add(1)
		case "receive_message":
			st.received.Add(1)
		case "message_error":
			st.errors.Add(1)
		}
	}
}
