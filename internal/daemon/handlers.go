package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sahasi-app/sahasi/internal/api"
	"github.com/sahasi-app/sahasi/internal/auth"
	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/chat"
	"github.com/sahasi-app/sahasi/internal/connectivity"
	"github.com/sahasi-app/sahasi/internal/metrics"
	"github.com/sahasi-app/sahasi/internal/safety"
	"github.com/sahasi-app/sahasi/internal/status"
	"github.com/sahasi-app/sahasi/internal/store"
	intsync "github.com/sahasi-app/sahasi/internal/sync"
	"go.uber.org/zap"
)

// Handlers is the HTTP control surface served on the session socket.
type Handlers struct {
	session string
	machine *status.Machine
	monitor *connectivity.Monitor
	chat    *chat.Session
	engine  *intsync.Engine
	safety  *safety.Service
	client  *api.Client
	auth    *auth.Manager
	db      *store.DB
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandlers creates the control-surface handlers.
func NewHandlers(
	p Params,
	machine *status.Machine,
	monitor *connectivity.Monitor,
	chatSess *chat.Session,
	engine *intsync.Engine,
	safetySvc *safety.Service,
	client *api.Client,
	am *auth.Manager,
	db *store.DB,
	b *bus.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		session: p.SessionName,
		machine: machine,
		monitor: monitor,
		chat:    chatSess,
		engine:  engine,
		safety:  safetySvc,
		client:  client,
		auth:    am,
		db:      db,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Router builds the route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/status", h.getStatus).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	r.HandleFunc("/v1/events", h.streamEvents).Methods("GET")

	r.HandleFunc("/v1/login", h.login).Methods("POST")
	r.HandleFunc("/v1/logout", h.logout).Methods("POST")
	r.HandleFunc("/v1/register", h.register).Methods("POST")
	r.HandleFunc("/v1/profile", h.getProfile).Methods("GET")
	r.HandleFunc("/v1/profile", h.updateProfile).Methods("PUT")

	r.HandleFunc("/v1/contacts", h.listContacts).Methods("GET")
	r.HandleFunc("/v1/contacts", h.createContact).Methods("POST")
	r.HandleFunc("/v1/contacts/{id:[0-9]+}", h.updateContact).Methods("PUT")
	r.HandleFunc("/v1/contacts/{id:[0-9]+}", h.deleteContact).Methods("DELETE")

	r.HandleFunc("/v1/safeplaces", h.safePlaces).Methods("GET")
	r.HandleFunc("/v1/location", h.currentLocation).Methods("GET")
	r.HandleFunc("/v1/location", h.updateLocation).Methods("POST")
	r.HandleFunc("/v1/sos", h.sendSOS).Methods("POST")
	r.HandleFunc("/v1/emergency-media", h.emergencyMedia).Methods("GET")

	r.HandleFunc("/v1/sync", h.syncAll).Methods("POST")
	r.HandleFunc("/v1/conversations/{id}/messages", h.listMessages).Methods("GET")
	r.HandleFunc("/v1/conversations/{id}/messages", h.sendMessage).Methods("POST")
	r.HandleFunc("/v1/conversations/{id}/sync", h.syncConversation).Methods("POST")
	r.HandleFunc("/v1/conversations/{id}/outbox", h.listOutbox).Methods("GET")

	return r
}

// messageJSON is the wire form of a conversation log entry.
type messageJSON struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	DeliveryState  string `json:"delivery_state"`
}

func toWire(msgs []store.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			ReceiverID:     m.ReceiverID,
			Text:           m.Text,
			CreatedAt:      m.CreatedAt,
			DeliveryState:  string(m.DeliveryState),
		})
	}
	return out
}

func (h *Handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   h.session,
		"status":    h.machine.Current(),
		"online":    h.monitor.Online(),
		"signed_in": h.auth.SignedIn(),
	})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := h.client.Login(r.Context(), req.Username, req.Password)
	if !res.OK {
		writeResult(w, res)
		return
	}

	token, userID := extractCredentials(res.Data)
	if token == "" {
		writeError(w, http.StatusBadGateway, "login response carried no token")
		return
	}
	if err := h.auth.SetToken(token); err != nil {
		writeError(w, http.StatusInternalServerError, "persist token: "+err.Error())
		return
	}
	if userID != "" {
		if err := h.auth.SetUserID(userID); err != nil {
			h.logger.Warn("persist user id", zap.Error(err))
		}
	}
	h.logger.Info("signed in", zap.String("user_id", userID))
	writeResult(w, res)
}

func (h *Handlers) logout(w http.ResponseWriter, _ *http.Request) {
	if err := h.auth.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, h.client.Register(r.Context(), req))
}

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.safety.Profile(r.Context()))
}

func (h *Handlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, h.safety.UpdateProfile(r.Context(), payload))
}

func (h *Handlers) listContacts(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.safety.TrustedContacts(r.Context()))
}

func (h *Handlers) createContact(w http.ResponseWriter, r *http.Request) {
	var contact api.TrustedContact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, h.safety.CreateTrustedContact(r.Context(), contact))
}

func (h *Handlers) updateContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	var contact api.TrustedContact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, h.safety.UpdateTrustedContact(r.Context(), id, contact))
}

func (h *Handlers) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	writeResult(w, h.safety.DeleteTrustedContact(r.Context(), id))
}

func (h *Handlers) safePlaces(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseCoords(w, r)
	if !ok {
		return
	}
	writeResult(w, h.safety.SafePlaces(r.Context(), lat, lng))
}

func (h *Handlers) currentLocation(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.safety.CurrentLocation(r.Context()))
}

func (h *Handlers) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeResult(w, h.safety.UpdateLocation(r.Context(), req.Latitude, req.Longitude))
}

func (h *Handlers) sendSOS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		req.Message = "Emergency! I need help."
	}
	writeResult(w, h.safety.SendSOS(r.Context(), req.Message))
}

func (h *Handlers) emergencyMedia(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.safety.EmergencyMedia(r.Context()))
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	log, err := h.chat.LoadHistory(r.Context(), conv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWire(log))
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.chat.Send(r.Context(), conv, req.Text)
	if err == chat.ErrEmptyMessage {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toWire([]store.Message{msg})[0])
}

func (h *Handlers) syncAll(w http.ResponseWriter, r *http.Request) {
	h.engine.SyncAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (h *Handlers) syncConversation(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	log := h.chat.OnConnectivityRestored(r.Context(), conv)
	writeJSON(w, http.StatusOK, toWire(log))
}

func (h *Handlers) listOutbox(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	queued, err := h.db.PeekOutbox(conv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWire(queued))
}

var upgrader = websocket.Upgrader{
	// The socket is a local UDS; there is no cross-origin surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventJSON is the wire form of a bus event on /v1/events.
type eventJSON struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// streamEvents upgrades to a websocket and forwards every bus event
// until the client goes away.
func (h *Handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("event stream upgrade", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch, unsub := h.bus.Subscribe("", 64)
	defer unsub()

	// Reader goroutine: the client never sends data, but reading is how
	// websocket close frames are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			out := eventJSON{
				ID:        uuid.NewString(),
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parseCoords(w http.ResponseWriter, r *http.Request) (lat, lng float64, ok bool) {
	var err error
	lat, err = strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lng")
		return 0, 0, false
	}
	return lat, lng, true
}

// extractCredentials pulls the bearer token and user id out of a login
// response, tolerating the field names the backend has used across
// versions.
func extractCredentials(data json.RawMessage) (token, userID string) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return "", ""
	}
	for _, key := range []string{"token", "access", "access_token", "auth_token"} {
		if raw, found := body[key]; found {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				token = s
				break
			}
		}
	}
	for _, key := range []string{"user_id", "id"} {
		if raw, found := body[key]; found {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				userID = s
				break
			}
			var n json.Number
			if json.Unmarshal(raw, &n) == nil && n.String() != "" {
				userID = n.String()
				break
			}
		}
	}
	return token, userID
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// writeResult forwards a backend Result, preserving its status code.
// Results that never reached the backend (network error, missing token)
// carry no status and map to 502.
func writeResult(w http.ResponseWriter, res api.Result) {
	code := res.Status
	if code == 0 {
		code = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if len(res.Data) > 0 {
		_, _ = w.Write(res.Data)
	} else {
		_, _ = w.Write([]byte("{}"))
	}
}
