package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rounds" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readRound(t *testing.T, conn *websocket.Conn) LiveRound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg LiveRound
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(DefaultHubConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws/rounds", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestHubBroadcastsWithNodeFilter(t *testing.T) {
	hub, srv := newHubServer(t)

	everyone := dial(t, srv, "")
	onlyThree := dial(t, srv, "?node_id=3")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	env := report.Envelope{RunID: "run-1", EventID: "ev-2"}
	require.NoError(t, hub.Store(context.Background(), env, round.Report{NodeID: 2, SeqNo: 7}))
	env.EventID = "ev-3"
	require.NoError(t, hub.Store(context.Background(), env, round.Report{NodeID: 3, SeqNo: 7}))

	first := readRound(t, everyone)
	second := readRound(t, everyone)
	assert.Equal(t, uint16(2), first.Report.NodeID)
	assert.Equal(t, uint16(3), second.Report.NodeID)
	assert.Equal(t, "run-1", first.RunID)

	got := readRound(t, onlyThree)
	assert.Equal(t, uint16(3), got.Report.NodeID)
	assert.Equal(t, "ev-3", got.EventID)
}

func TestHubRejectsBadFilter(t *testing.T) {
	_, srv := newHubServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rounds?node_id=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastRacingUnregister(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.SendBuffer = 8
	hub := NewHub(cfg)

	clients := make([]*client, 2000)
	for i := range clients {
		c := &client{
			id:     strconv.Itoa(i),
			nodeID: uint16(i % 3),
			send:   make(chan []byte, cfg.SendBuffer),
			done:   make(chan struct{}),
			hub:    hub,
		}
		clients[i] = c
		hub.register(c)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.unregister(c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < cfg.SendBuffer; i++ {
			hub.broadcast(LiveRound{Report: round.Report{NodeID: uint16(i % 3)}})
		}
	}()
	wg.Wait()

	assert.Zero(t, hub.Clients())
	for _, c := range clients {
		select {
		case <-c.done:
		default:
			t.Fatalf("client %s still open", c.id)
		}
	}
}
