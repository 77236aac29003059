package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/trip-negotiation/internal/apperr"
	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/negotiation"
	"github.com/example/trip-negotiation/internal/storage"
)

type requestTripBody struct {
	Origin         string               `json:"origin"`
	Destination    string               `json:"destination"`
	Notes          string               `json:"notes"`
	ScheduledFor   *time.Time           `json:"scheduled_for"`
	PaymentMethod  models.PaymentMethod `json:"payment_method"`
	Headcount      int                  `json:"headcount"`
	ProposedAmount models.Amount        `json:"proposed_amount"`
}

func (s *Server) handleRequestTrip(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body requestTripBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	trip, err := s.engine.RequestTrip(r.Context(), actor.ID, negotiation.RequestTripInput{
		Origin:         body.Origin,
		Destination:    body.Destination,
		Notes:          body.Notes,
		ScheduledFor:   body.ScheduledFor,
		Payment:        body.PaymentMethod,
		Headcount:      body.Headcount,
		ProposedAmount: body.ProposedAmount,
	})
	s.respondTrip(w, r, http.StatusCreated, trip, err)
}

func (s *Server) handleMyTrips(w http.ResponseWriter, r *http.Request, actor Actor) {
	var (
		views []models.TripView
		err   error
	)
	if actor.Role == RoleCarrier {
		views, err = s.listings.TripsForCarrier(r.Context(), actor.ID)
	} else {
		views, err = s.listings.TripsForRequester(r.Context(), actor.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleOpenTrips(w http.ResponseWriter, r *http.Request, actor Actor) {
	views, err := s.listings.OpenTrips(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.GetTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.AcceptTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.DeclineTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

type counterBody struct {
	Amount models.Amount `json:"amount"`
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body counterBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	trip, err := s.engine.ProposeCounter(r.Context(), actor.ID, mux.Vars(r)["id"], body.Amount)
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

type respondBody struct {
	Accept *bool `json:"accept"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body respondBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Accept == nil {
		s.writeError(w, r, apperr.InvalidInput("accept is required"))
		return
	}
	trip, err := s.engine.RespondToCounter(r.Context(), actor.ID, mux.Vars(r)["id"], *body.Accept)
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.StartTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.CompleteTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, actor Actor) {
	trip, err := s.engine.CancelTrip(r.Context(), actor.ID, mux.Vars(r)["id"])
	s.respondTrip(w, r, http.StatusOK, trip, err)
}

func (s *Server) respondTrip(w http.ResponseWriter, r *http.Request, status int, trip *models.Trip, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.listings.View(r.Context(), trip)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, view)
}

type rateBody struct {
	Score   *int   `json:"score"`
	Comment string `json:"comment"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body rateBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Score == nil {
		s.writeError(w, r, apperr.InvalidInput("score is required"))
		return
	}
	rt, err := s.ratings.RateTrip(r.Context(), actor.ID, mux.Vars(r)["id"], *body.Score, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleHasRated(w http.ResponseWriter, r *http.Request, actor Actor) {
	rated, err := s.ratings.HasRated(r.Context(), mux.Vars(r)["id"], actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rated": rated})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request, actor Actor) {
	rep, err := s.reputation.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRatingsReceived(w http.ResponseWriter, r *http.Request, actor Actor) {
	rs, err := s.ratings.RatingsReceived(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleMyApproval(w http.ResponseWriter, r *http.Request, actor Actor) {
	a, err := s.carriers.CarrierApproval(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, r, carrierErr(actor.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleApplyForApproval puts a new carrier on the review queue. Applying
// again while pending returns the existing record; a decided application
// stays decided.
func (s *Server) handleApplyForApproval(w http.ResponseWriter, r *http.Request, actor Actor) {
	current, err := s.carriers.CarrierApproval(r.Context(), actor.ID)
	switch {
	case errors.Is(err, storage.ErrCarrierNotFound):
		a := models.CarrierApproval{CarrierID: actor.ID, Status: models.ApprovalPending, UpdatedAt: s.now()}
		if err := s.carriers.SetCarrierApproval(r.Context(), a); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.Info("carrier applied for approval", "carrier_id", actor.ID)
		writeJSON(w, http.StatusCreated, a)
	case err != nil:
		s.writeError(w, r, err)
	case current.Status == models.ApprovalPending:
		writeJSON(w, http.StatusOK, current)
	case current.Status == models.ApprovalApproved:
		s.writeError(w, r, apperr.Conflict("carrier is already approved"))
	default:
		s.writeError(w, r, apperr.Conflict("carrier application was rejected"))
	}
}

func (s *Server) handlePendingCarriers(w http.ResponseWriter, r *http.Request, actor Actor) {
	as, err := s.carriers.CarriersByApproval(r.Context(), models.ApprovalPending)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleApproveCarrier(w http.ResponseWriter, r *http.Request, actor Actor) {
	s.setApproval(w, r, mux.Vars(r)["id"], models.ApprovalApproved, "")
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectCarrier(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body rejectBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.setApproval(w, r, mux.Vars(r)["id"], models.ApprovalRejected, body.Reason)
}

// setApproval records an admin decision for a carrier that has applied.
func (s *Server) setApproval(w http.ResponseWriter, r *http.Request, carrierID string, status models.ApprovalStatus, reason string) {
	a := models.CarrierApproval{CarrierID: carrierID, Status: status, Reason: reason, UpdatedAt: s.now()}
	if err := s.carriers.UpdateCarrierApproval(r.Context(), a); err != nil {
		s.writeError(w, r, carrierErr(carrierID, err))
		return
	}
	s.logger.Info("carrier approval updated", "carrier_id", carrierID, "status", status)
	writeJSON(w, http.StatusOK, a)
}

func carrierErr(carrierID string, err error) error {
	if errors.Is(err, storage.ErrCarrierNotFound) {
		return apperr.NotFound("carrier %s has not applied for approval", carrierID)
	}
	return err
}
