package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tinchat/backend/internal/api/handler"
	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/localization"
	"tinchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) (*httptest.Server, *chathub.ManagerService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	loc, err := localization.NewDefaultLocalizer()
	require.NoError(t, err)
	hub := chathub.NewManagerService(&logger, chathub.Options{
		Timings:   config.DefaultTimings(),
		Localizer: loc,
	})

	r := gin.New()
	handler.NewHandler(hub, testSecret, &logger).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return srv, hub
}

func issueToken(t *testing.T, srv *httptest.Server) (token, anonID string) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/anonid")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token  string `json:"token"`
		AnonID string `json:"anon_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	require.NotEmpty(t, body.AnonID)
	return body.Token, body.AnonID
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func readEvent(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev inbound
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats chathub.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.Online)
	assert.Zero(t, stats.Rooms)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token=garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_AnonymousSession(t *testing.T) {
	srv, hub := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventOnlineCountUpdate, ev.Event)
	assert.JSONEq(t, `{"count":1}`, string(ev.Payload))

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "dance"}))
	ev = readEvent(t, conn)
	require.Equal(t, models.EventError, ev.Event)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, chathub.KeyUnknownEvent, payload.Code)
	assert.Equal(t, "Unknown request.", payload.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = readEvent(t, conn)
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, chathub.KeyInvalidPayload, payload.Code)

	assert.Equal(t, 1, hub.Registry.Count())
}

func TestWebSocket_TokenBindsIdentity(t *testing.T) {
	srv, hub := newTestServer(t)
	token, anonID := issueToken(t, srv)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept-Language", "uk-UA,uk;q=0.9")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	clients := hub.Registry.Clients()
	require.Len(t, clients, 1)
	record, ok := hub.Registry.Connection(clients[0].GetConnectionID())
	require.True(t, ok)
	assert.Equal(t, anonID, record.Identity)
	assert.Equal(t, "uk", record.Lang)
}

func TestWebSocket_DisconnectIsRecorded(t *testing.T) {
	srv, hub := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	stats := hub.Registry.DisconnectStats()
	require.Equal(t, 1, stats.Total)
	assert.Equal(t, chathub.ReasonClientLeave, stats.TopReasons[0].Reason)
}
