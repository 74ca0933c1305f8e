package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	"github.com/avvvet/kanban-services/internal/kanbansvc/service"
	"github.com/avvvet/kanban-services/internal/kanbansvc/store"
	"github.com/avvvet/kanban-services/internal/kanbansvc/ws"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 10 << 20

var (
	errBadBody      = errors.New("request body is not valid JSON")
	errBodyTooLarge = errors.New("request body is too large")
)

type Handler struct {
	svc       *service.CardService
	ws        *ws.Ws
	upgrader  websocket.Upgrader
	tokenAuth *jwtauth.JWTAuth
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
	Count  *int   `json:"count,omitempty"`
}

func NewHandler(svc *service.CardService, s *ws.Ws) *Handler {
	return &Handler{
		svc: svc,
		ws:  s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) CreateResponse(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// OptionsHandler answers plain OPTIONS requests; CORS preflights are
// answered by the cors middleware before routing.
func (h *Handler) OptionsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, POST, PUT, DELETE, OPTIONS")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
}

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.svc.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.CreateResponse(w, http.StatusOK, cards)
}

func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var card models.Card
	if err := decodeBody(w, r, &card); err != nil {
		h.handleError(w, r, err)
		return
	}

	stored, err := h.svc.Append(r.Context(), card)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.CreateResponse(w, http.StatusCreated, stored)
}

func (h *Handler) ReplaceCards(w http.ResponseWriter, r *http.Request) {
	var cards models.Collection
	if err := decodeBody(w, r, &cards); err != nil {
		h.handleError(w, r, err)
		return
	}

	count, err := h.svc.ReplaceAll(r.Context(), cards)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.CreateResponse(w, http.StatusOK, StatusResponse{Status: "saved", Count: &count})
}

// UpdateCard always answers 200 with the submitted card, matched or not.
// X-Card-Matched tells the two cases apart.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)

	var card models.Card
	if err := decodeBody(w, r, &card); err != nil {
		h.handleError(w, r, err)
		return
	}

	updated, matched, err := h.svc.ReplaceOne(r.Context(), id, card)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("X-Card-Matched", strconv.FormatBool(matched))
	h.CreateResponse(w, http.StatusOK, updated)
}

func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)

	removed, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("X-Cards-Removed", strconv.Itoa(removed))
	h.CreateResponse(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

// HandleWebSocket registers a browser for card change events.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.ws.StoreConnection(socketId, conn)

	log.Infof("New WebSocket connection established: %s", socketId)

	go h.handleConnection(conn, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, socketId string) {
	defer func() {
		conn.Close()
		h.ws.HandleDisconnect(socketId)
	}()

	conn.SetReadLimit(4096)

	// clients only listen; reading keeps control frames flowing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", socketId, err)
			} else {
				log.Infof("WebSocket connection closed for socket: %s", socketId)
			}
			return
		}
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())

	var serr *store.StorageError
	switch {
	case errors.Is(err, errBadBody):
		h.CreateResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, errBodyTooLarge):
		h.CreateResponse(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrCardNotObject), errors.Is(err, models.ErrInvalidCardID):
		h.CreateResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &serr):
		log.WithField("request_id", reqID).Errorf("storage failure: %v", err)
		h.CreateResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "storage failure"})
	default:
		log.WithField("request_id", reqID).Errorf("internal error: %v", err)
		h.CreateResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errBadBody
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadBody
	}
	return nil
}

// cardID returns the decoded {id} segment. chi routes on RawPath when the
// URL has one, and only then is the segment still escaped.
func cardID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}
