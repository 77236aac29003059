package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-negotiation/internal/dispatch"
	"github.com/example/trip-negotiation/internal/matcher"
	"github.com/example/trip-negotiation/internal/negotiation"
	"github.com/example/trip-negotiation/internal/rating"
	"github.com/example/trip-negotiation/internal/reputation"
	"github.com/example/trip-negotiation/internal/storage"
)

type Deps struct {
	Engine     *negotiation.Engine
	Listings   *matcher.Service
	Ratings    *rating.Service
	Reputation *reputation.Aggregator
	Carriers   storage.CarrierStore
	WSReg      *dispatch.WSRegistry
	Auth       *Authenticator
	Logger     *slog.Logger
}

type Server struct {
	engine     *negotiation.Engine
	listings   *matcher.Service
	ratings    *rating.Service
	reputation *reputation.Aggregator
	carriers   storage.CarrierStore
	wsReg      *dispatch.WSRegistry
	auth       *Authenticator
	logger     *slog.Logger
	now        func() time.Time
	mux        *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		engine:     d.Engine,
		listings:   d.Listings,
		ratings:    d.Ratings,
		reputation: d.Reputation,
		carriers:   d.Carriers,
		wsReg:      d.WSReg,
		auth:       d.Auth,
		logger:     d.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/trips", allow(s.handleRequestTrip, RoleRequester)).Methods("POST")
	api.HandleFunc("/trips/mine", allow(s.handleMyTrips, RoleRequester, RoleCarrier)).Methods("GET")
	api.HandleFunc("/trips/open", allow(s.handleOpenTrips, RoleCarrier)).Methods("GET")
	api.HandleFunc("/trips/{id}", allow(s.handleGetTrip, RoleRequester, RoleCarrier)).Methods("GET")
	api.HandleFunc("/trips/{id}/accept", allow(s.handleAccept, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/decline", allow(s.handleDecline, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/counter", allow(s.handleCounter, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/counter/respond", allow(s.handleRespond, RoleRequester)).Methods("POST")
	api.HandleFunc("/trips/{id}/start", allow(s.handleStart, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/complete", allow(s.handleComplete, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/cancel", allow(s.handleCancel, RoleRequester, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/ratings", allow(s.handleRate, RoleRequester, RoleCarrier)).Methods("POST")
	api.HandleFunc("/trips/{id}/ratings/mine", allow(s.handleHasRated, RoleRequester, RoleCarrier)).Methods("GET")

	api.HandleFunc("/users/{id}/reputation", allow(s.handleReputation, RoleRequester, RoleCarrier, RoleAdmin)).Methods("GET")
	api.HandleFunc("/users/{id}/ratings", allow(s.handleRatingsReceived, RoleRequester, RoleCarrier, RoleAdmin)).Methods("GET")

	api.HandleFunc("/carriers/me/approval", allow(s.handleMyApproval, RoleCarrier)).Methods("GET")
	api.HandleFunc("/carriers/me/approval", allow(s.handleApplyForApproval, RoleCarrier)).Methods("POST")
	api.HandleFunc("/admin/carriers/pending", allow(s.handlePendingCarriers, RoleAdmin)).Methods("GET")
	api.HandleFunc("/admin/carriers/{id}/approve", allow(s.handleApproveCarrier, RoleAdmin)).Methods("POST")
	api.HandleFunc("/admin/carriers/{id}/reject", allow(s.handleRejectCarrier, RoleAdmin)).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// handleWS authenticates with the token query parameter and keeps the
// connection registered until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	actor, err := s.auth.Parse(token)
	if token == "" || err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "invalid token"})
		return
	}
	r = withActor(r, actor)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", actor.ID, "error", err)
		return
	}
	session := s.wsReg.Add(actor.ID, conn)
	s.logger.Info("ws connected", "user_id", actor.ID, "role", actor.Role)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.wsReg.Remove(session)
	s.logger.Info("ws disconnected", "user_id", actor.ID)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
