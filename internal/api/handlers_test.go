package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gwebsocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/auth"
	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/ingest"
	"github.com/2223010198-web/MonicGpio/internal/storage"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
	"github.com/2223010198-web/MonicGpio/internal/websocket"
)

type fakeGateway struct {
	store     *telemetry.Store
	connected bool
	commands  []bool
	err       error
}

func (g *fakeGateway) Dispatch(kind string, payload []byte) error {
	switch kind {
	case "sensors":
		r, err := data.ParseSensorReading(payload, time.Now())
		if err != nil {
			return err
		}
		_, err = g.store.PushReading(r)
		return err
	case "alerts", "monitor", "device":
		return nil
	}
	return ingest.ErrUnknownTopic
}

func (g *fakeGateway) PublishAudioCommand(_ context.Context, on bool) error {
	if !g.connected {
		return ingest.ErrNotConnected
	}
	if g.err != nil {
		return g.err
	}
	g.commands = append(g.commands, on)
	return nil
}

func (g *fakeGateway) State() ingest.ConnState {
	if g.connected {
		return ingest.Connected
	}
	return ingest.Disconnected
}

type nopModel struct{}

func (nopModel) Fit([][]float64) error                    { return nil }
func (nopModel) Predict([]float64) (bool, float64, error) { return false, 0.1, nil }

type testEnv struct {
	handler *APIHandler
	store   *telemetry.Store
	gateway *fakeGateway
	hub     *websocket.Hub
	archive *storage.Archive
	auth    *auth.AuthManager
	ui      http.Handler
	data    http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	opts := telemetry.DefaultOptions()
	opts.Detector = anomaly.NewDetector(anomaly.DefaultOptions(), nopModel{})
	store := telemetry.NewStore(opts)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	am := auth.NewAuthManager(auth.Config{
		JWTSecret: "test-secret",
		APIKeys:   []string{"node-key"},
		AllowedUsers: []auth.User{
			{Username: "ranger", PasswordHash: string(hash), Role: "operator"},
			{Username: "guest", PasswordHash: string(hash), Role: "viewer"},
		},
	})

	archive, err := storage.OpenArchive(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	gw := &fakeGateway{store: store}
	h := NewAPIHandler(store, gw, hub, am, archive)
	return &testEnv{
		handler: h,
		store:   store,
		gateway: gw,
		hub:     hub,
		archive: archive,
		auth:    am,
		ui:      SetupUIRouter(h),
		data:    SetupDataRouter(h),
	}
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDataIngest(t *testing.T) {
	env := newEnv(t)
	key := map[string]string{"X-API-Key": "node-key"}

	rec := do(env.data, http.MethodPost, "/data/sensors", `{"temp":28,"hum":40}`, key)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, env.store.LatestReading())
	assert.Equal(t, 28.0, env.store.LatestReading().Temperature)

	rec = do(env.data, http.MethodPost, "/data/sensors", `{"temp":`, key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(env.data, http.MethodPost, "/data/weather", `{}`, key)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(env.data, http.MethodPost, "/data/sensors", `{"temp":28}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := do(env.ui, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","mqtt":"disconnected","connectivity":"never_connected","clients":0}`, rec.Body.String())
}

func TestSnapshotAndHistory(t *testing.T) {
	env := newEnv(t)
	now := time.Now()
	_, err := env.store.PushReading(&data.SensorReading{Temperature: 33, Humidity: 45, GasClean: true, ReceivedAt: now})
	require.NoError(t, err)

	rec := do(env.ui, http.MethodGet, "/api/snapshot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "online", snap["connectivity"])

	rec = do(env.ui, http.MethodGet, "/api/history/temperature", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"metric":"temperature","capacity":50,"values":[33]}`, rec.Body.String())

	rec = do(env.ui, http.MethodGet, "/api/history/pressure", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimelineAndAlerts(t *testing.T) {
	env := newEnv(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := env.store.PushGunshotAlert(data.GunshotAlert{Probability: 0.9, Timestamp: at, Audio: []byte{1, 2, 3}})
	require.NoError(t, err)

	rec := do(env.ui, http.MethodGet, "/api/timeline", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []data.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, data.SeverityCritical, events[0].Severity)

	rec = do(env.ui, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []data.GunshotAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, []byte{1, 2, 3}, alerts[0].Audio)
}

func TestLatestAudio(t *testing.T) {
	env := newEnv(t)
	rec := do(env.ui, http.MethodGet, "/api/audio/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.store.PushAudioFrame(&data.AudioFrame{Timestamp: time.Now(), Audio: []byte("RIFF")}))
	rec = do(env.ui, http.MethodGet, "/api/audio/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", rec.Body.String())
}

func TestArchiveEvents(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	for i, title := range []string{"MOTION", "LOW HUMIDITY"} {
		require.NoError(t, env.archive.SaveEvent(ctx, data.Event{
			ID:        title,
			Title:     title,
			Source:    data.SourceRisk,
			Timestamp: time.Date(2025, 3, 1, 12, i, 0, 0, time.UTC),
		}))
	}

	rec := do(env.ui, http.MethodGet, "/api/archive/events?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []data.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "LOW HUMIDITY", events[0].Title)

	rec = do(env.ui, http.MethodGet, "/api/archive/events?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.handler.archive = nil
	rec = do(env.ui, http.MethodGet, "/api/archive/events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func login(t *testing.T, env *testEnv, user string) string {
	t.Helper()
	rec := do(env.ui, http.MethodPost, "/api/login", `{"username":"`+user+`","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["token"]
}

func TestLogin(t *testing.T) {
	env := newEnv(t)
	assert.NotEmpty(t, login(t, env, "ranger"))

	rec := do(env.ui, http.MethodPost, "/api/login", `{"username":"ranger","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(env.ui, http.MethodPost, "/api/login", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioCommand(t *testing.T) {
	env := newEnv(t)
	bearer := map[string]string{"Authorization": "Bearer " + login(t, env, "ranger")}

	rec := do(env.ui, http.MethodPost, "/api/audio", `{"enabled":true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(env.ui, http.MethodPost, "/api/audio", `{"enabled":true}`, bearer)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.gateway.connected = true
	rec = do(env.ui, http.MethodPost, "/api/audio", `{"enabled":false}`, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
	assert.Equal(t, []bool{false}, env.gateway.commands)

	rec = do(env.ui, http.MethodPost, "/api/audio", `{}`, bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.gateway.err = errors.New("timeout")
	rec = do(env.ui, http.MethodPost, "/api/audio", `{"enabled":true}`, bearer)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	viewer := map[string]string{"Authorization": "Bearer " + login(t, env, "guest")}
	rec = do(env.ui, http.MethodPost, "/api/audio", `{"enabled":true}`, viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebSocketReceivesSnapshotThenBroadcasts(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.ui)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := gwebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() websocket.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var m websocket.Message
		require.NoError(t, json.NewDecoder(bytes.NewReader(raw)).Decode(&m))
		return m
	}

	assert.Equal(t, websocket.TypeSnapshot, read().Type)

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	env.hub.BroadcastEvent(data.Event{ID: "e1", Title: "MOTION"})
	m := read()
	assert.Equal(t, websocket.TypeEvent, m.Type)
}
