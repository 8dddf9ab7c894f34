package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-playground/assert/v2"

	"github.com/villagaiaimpacthub/hive/plan"
)

var testJwtSecret = []byte("test-secret")

type memPlanStore struct {
	mutex sync.Mutex

	imports []*plan.ParseResult
}

func (self *memPlanStore) ImportPlan(ctx context.Context, result *plan.ParseResult) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.imports = append(self.imports, result)
	return nil
}

func (self *memPlanStore) Imports() []*plan.ParseResult {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return append([]*plan.ParseResult{}, self.imports...)
}

func newTestServer(t *testing.T) (*Server, *memStore, *memPlanStore, *httptest.Server) {
	store := newMemStore()
	planStore := &memPlanStore{}
	registry := NewPresenceRegistry()
	router := NewRouterWithDefaults(context.Background(), registry, store)
	server := NewServerWithDefaults(context.Background(), testJwtSecret, router, store, planStore)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(server.Close)
	return server, store, planStore, ts
}

func wsUrl(ts *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if token != "" {
		url = url + "?token=" + token
	}
	return url
}

func dialWs(t *testing.T, url string) *websocket.Conn {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Equal(t, err, nil)
	t.Cleanup(func() {
		ws.Close()
	})
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	_, frame, err := ws.ReadMessage()
	assert.Equal(t, err, nil)
	var message map[string]any
	assert.Equal(t, json.Unmarshal(frame, &message), nil)
	return message
}

func TestWsMissingTokenCloseReason(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	ws := dialWs(t, wsUrl(ts, ""))

	_, _, err := ws.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	assert.Equal(t, ok, true)
	assert.Equal(t, closeErr.Code, CloseCodeAuthFailure)
	assert.Equal(t, closeErr.Text, CloseReasonMissingToken)
}

func TestWsInvalidTokenCloseReason(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	ws := dialWs(t, wsUrl(ts, "not.a.jwt"))

	_, _, err := ws.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	assert.Equal(t, ok, true)
	assert.Equal(t, closeErr.Code, CloseCodeAuthFailure)
	assert.Equal(t, closeErr.Text, CloseReasonInvalidToken)
}

func TestWsDispatch(t *testing.T) {
	_, store, _, ts := newTestServer(t)

	userId := store.addUser("a@example.com", "member")
	token, err := NewChannelToken(userId, testJwtSecret)
	assert.Equal(t, err, nil)

	ws := dialWs(t, wsUrl(ts, token))

	err = ws.WriteJSON(map[string]any{
		"type": MessageTypePing,
		"payload": map[string]any{
			"timestamp": 1234567890,
		},
	})
	assert.Equal(t, err, nil)
	pong := readFrame(t, ws)
	assert.Equal(t, pong["type"], MessageTypePong)
	assert.Equal(t, pong["timestamp"], float64(1234567890))

	err = ws.WriteJSON(map[string]any{
		"type": MessageTypeChat,
		"payload": map[string]any{
			"message": "hello",
		},
	})
	assert.Equal(t, err, nil)
	chat := readFrame(t, ws)
	assert.Equal(t, chat["type"], MessageTypeChat)
	assert.Equal(t, chat["message"], "hello")
	assert.Equal(t, chat["user_id"], userId.String())

	// registering the connection drained an online intent into the store
	store.mutex.Lock()
	writes := append([]PresenceEvent{}, store.onlineWrites...)
	store.mutex.Unlock()
	assert.Equal(t, 0 < len(writes), true)
	assert.Equal(t, writes[0], PresenceEvent{UserId: userId, Online: true})
}

func TestServerCloseUnblocksConnections(t *testing.T) {
	server, store, _, ts := newTestServer(t)

	userId := store.addUser("a@example.com", "member")
	token, err := NewChannelToken(userId, testJwtSecret)
	assert.Equal(t, err, nil)

	ws := dialWs(t, wsUrl(ts, token))

	// round trip once so the handler loop is known to be running
	err = ws.WriteJSON(map[string]any{
		"type": MessageTypePing,
	})
	assert.Equal(t, err, nil)
	readFrame(t, ws)

	server.Close()

	// the handler must close the conn, not leave the peer
	// waiting until the read deadline
	_, _, err = ws.ReadMessage()
	assert.NotEqual(t, err, nil)
	if netErr, ok := err.(net.Error); ok {
		assert.Equal(t, netErr.Timeout(), false)
	}
}

func TestPlanParseRejectsFormat(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	body, err := json.Marshal(&PlanParseArgs{
		Content: "## Plan\none two three four five six seven eight nine",
		Format:  "yaml",
	})
	assert.Equal(t, err, nil)

	r, err := http.Post(ts.URL+"/plans/parse", "application/json", bytes.NewReader(body))
	assert.Equal(t, err, nil)
	defer r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusBadRequest)

	var parseError PlanParseError
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&parseError), nil)
	assert.Equal(t, parseError.Errors, []string{"Unsupported format: yaml"})
}

func TestPlanParseEndpoint(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	body, err := json.Marshal(&PlanParseArgs{
		Content: `## Waypoint: Foundations
### Project: Garden Design
#### Task: Site Analysis
Survey the site and collect soil samples for testing.
`,
		Format: "markdown",
	})
	assert.Equal(t, err, nil)

	r, err := http.Post(ts.URL+"/plans/parse", "application/json", bytes.NewReader(body))
	assert.Equal(t, err, nil)
	defer r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusOK)

	var result plan.ParseResult
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&result), nil)
	assert.Equal(t, result.Summary.WaypointsCount, 1)
	assert.Equal(t, result.Summary.ProjectsCount, 1)
	assert.Equal(t, result.Summary.TasksCount, 1)
}

func TestPlanConfirmEndpoint(t *testing.T) {
	_, _, planStore, ts := newTestServer(t)

	preview := plan.NewParserWithDefaults().ParseMarkdown(`## Waypoint: W
### Project: P
#### Task: T
Plain work item.
`)
	body, err := json.Marshal(preview)
	assert.Equal(t, err, nil)

	r, err := http.Post(ts.URL+"/plans/confirm", "application/json", bytes.NewReader(body))
	assert.Equal(t, err, nil)
	defer r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusOK)

	var confirm PlanConfirmResult
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&confirm), nil)
	assert.Equal(t, confirm.Status, "success")
	assert.Equal(t, confirm.Summary, preview.Summary)

	imports := planStore.Imports()
	assert.Equal(t, len(imports), 1)
	assert.Equal(t, imports[0].Summary, preview.Summary)
}

func TestRealtimeClientRoundTrip(t *testing.T) {
	_, store, _, ts := newTestServer(t)

	userId := store.addUser("a@example.com", "member")
	token, err := NewChannelToken(userId, testJwtSecret)
	assert.Equal(t, err, nil)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewRealtimeClientWithDefaults(cancelCtx, wsUrl(ts, ""), &ChannelAuth{
		Token: token,
	})
	defer client.Close()

	err = client.SendEnvelope(MessageTypePing, map[string]any{
		"timestamp": 42,
	})
	assert.Equal(t, err, nil)

	select {
	case frame := <-client.Receive():
		var pong map[string]any
		assert.Equal(t, json.Unmarshal(frame, &pong), nil)
		assert.Equal(t, pong["type"], MessageTypePong)
		assert.Equal(t, pong["timestamp"], float64(42))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for pong")
	}
}
