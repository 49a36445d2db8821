package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict

	"github.com/2223010198-web/MonicGpio/internal/auth"
	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/ingest"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
	"github.com/2223010198-web/MonicGpio/internal/websocket"
)

const maxBodyBytes = 1 << 20

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway is the ingestion side the API drives.
type Gateway interface {
	Dispatch(kind string, payload []byte) error
	PublishAudioCommand(ctx context.Context, on bool) error
	State() ingest.ConnState
}

// EventArchive serves archived timeline events.
type EventArchive interface {
	RecentEvents(ctx context.Context, limit int) ([]data.Event, error)
}

type APIHandler struct {
	store   *telemetry.Store
	gateway Gateway
	hub     *websocket.Hub
	auth    *auth.AuthManager
	archive EventArchive
	now     func() time.Time
}

// NewAPIHandler wires the handlers. archive may be nil when archiving is
// disabled.
func NewAPIHandler(store *telemetry.Store, gateway Gateway, hub *websocket.Hub, am *auth.AuthManager, archive EventArchive) *APIHandler {
	return &APIHandler{
		store:   store,
		gateway: gateway,
		hub:     hub,
		auth:    am,
		archive: archive,
		now:     time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleDataIngest receives node payloads over HTTP and feeds them
// through the same dispatch as MQTT messages.
func (h *APIHandler) HandleDataIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Printf("Error reading request body: %v", err)
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	defer r.Body.Close()

	kind := chi.URLParam(r, "kind")
	if err := h.gateway.Dispatch(kind, body); err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownTopic):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, telemetry.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			log.Printf("Error parsing %s payload: %v", kind, err)
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"mqtt":         h.gateway.State().String(),
		"connectivity": h.store.Freshness(h.now()).String(),
		"clients":      h.hub.ClientCount(),
	})
}

func (h *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot(h.now()))
}

func (h *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	m, err := telemetry.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	series, err := h.store.History(m)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":   m,
		"capacity": series.Cap(),
		"values":   series.Snapshot(),
	})
}

func (h *APIHandler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Timeline())
}

// HandleAlerts returns the gunshot log, newest first, with base64 audio.
func (h *APIHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GunshotAlerts())
}

// HandleLatestAudio streams the last monitor frame as WAV.
func (h *APIHandler) HandleLatestAudio(w http.ResponseWriter, r *http.Request) {
	f := h.store.LatestAudioFrame()
	if f == nil || len(f.Audio) == 0 {
		writeError(w, http.StatusNotFound, "no audio received")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Audio-Timestamp", f.Timestamp.UTC().Format(time.RFC3339Nano))
	w.WriteHeader(http.StatusOK)
	w.Write(f.Audio)
}

func (h *APIHandler) HandleArchiveEvents(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..1000")
			return
		}
		limit = n
	}
	events, err := h.archive.RecentEvents(r.Context(), limit)
	if err != nil {
		log.Printf("Archive query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	role, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.auth.GenerateJWT(req.Username, role)
	if err != nil {
		log.Printf("Error generating token: %v", err)
		writeError(w, http.StatusInternalServerError, "cannot issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "role": role})
}

type audioRequest struct {
	Enabled *bool `json:"enabled"`
}

// HandleAudioCommand toggles the node's gunshot detector.
func (h *APIHandler) HandleAudioCommand(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.gateway.PublishAudioCommand(ctx, *req.Enabled); err != nil {
		if errors.Is(err, ingest.ErrNotConnected) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		log.Printf("Audio command failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	user, _, _ := auth.UserFromContext(r.Context())
	log.Printf("Audio detector set to %t by %s", *req.Enabled, user)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// HandleWebSocket upgrades connections and registers clients with the hub
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.sendInitialData(client)
	if !h.hub.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	log.Printf("WebSocket connection established: %s", conn.RemoteAddr())
}

// sendInitialData queues the current snapshot ahead of any broadcast. The
// client is not registered yet, so its buffer is empty.
func (h *APIHandler) sendInitialData(client *websocket.Client) {
	messageBytes, err := websocket.Encode(websocket.TypeSnapshot, h.store.Snapshot(h.now()))
	if err != nil {
		log.Printf("Error marshalling snapshot: %v", err)
		return
	}
	client.Send <- messageBytes
}
