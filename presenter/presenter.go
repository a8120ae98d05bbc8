package presenter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omni/intent-bridge/approval"
	"github.com/omni/intent-bridge/db"
	"github.com/omni/intent-bridge/entity"
	"github.com/omni/intent-bridge/fault"
	"github.com/omni/intent-bridge/logging"
	mw "github.com/omni/intent-bridge/presenter/http/middleware"
	"github.com/omni/intent-bridge/presenter/http/render"
	"github.com/omni/intent-bridge/verifier"
)

const defaultEventsLimit = 100

var ErrEmptyIntentID = errors.New("intent_id is required")

type Presenter struct {
	logger     logging.Logger
	service    *verifier.Service
	feed       *verifier.Feed
	deliveries entity.RelayDeliveriesRepo
	root       chi.Router
}

func NewPresenter(logger logging.Logger, service *verifier.Service, feed *verifier.Feed, deliveries entity.RelayDeliveriesRepo) *Presenter {
	p := &Presenter{
		logger:     logger,
		service:    service,
		feed:       feed,
		deliveries: deliveries,
		root:       chi.NewMux(),
	}
	p.root.Use(middleware.Throttle(20))
	p.root.Use(middleware.RequestID)
	p.root.Use(mw.NewLoggerMiddleware(p.logger))
	p.root.Use(mw.Recoverer)

	p.root.Post("/validate-outflow-fulfillment", p.ValidateOutflowFulfillment)
	p.root.Post("/validate-inflow-escrow", p.ValidateInflowEscrow)
	p.root.With(mw.GetIntentIDMiddleware).Get("/approvals/{intentID}", p.GetApproval)
	p.root.With(mw.GetIntentIDMiddleware).Get("/deliveries/{intentID}", p.GetDeliveries)
	p.root.Get("/public-key", p.GetPublicKey)
	p.root.Get("/health", p.Health)
	p.root.With(mw.GetLimitMiddleware(defaultEventsLimit)).Get("/events", p.Events)
	return p
}

func (p *Presenter) Handler() http.Handler {
	return p.root
}

func (p *Presenter) Serve(addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	return http.ListenAndServe(addr, p.root)
}

func (p *Presenter) ValidateOutflowFulfillment(w http.ResponseWriter, r *http.Request) {
	var req OutflowFulfillmentRequest
	if err := decodeBody(r, &req); err != nil {
		render.BadRequest(w, r, err)
		return
	}
	if req.IntentID == (common.Hash{}) {
		render.BadRequest(w, r, ErrEmptyIntentID)
		return
	}
	a, err := p.service.ValidateOutflowFulfillment(r.Context(), &verifier.OutflowRequest{
		IntentID:  req.IntentID,
		TxHash:    req.TransactionHash,
		ChainType: req.ChainType,
	})
	p.renderValidation(w, r, a, err)
}

func (p *Presenter) ValidateInflowEscrow(w http.ResponseWriter, r *http.Request) {
	var req InflowEscrowRequest
	if err := decodeBody(r, &req); err != nil {
		render.BadRequest(w, r, err)
		return
	}
	if req.IntentID == (common.Hash{}) {
		render.BadRequest(w, r, ErrEmptyIntentID)
		return
	}
	a, err := p.service.ValidateInflowEscrow(r.Context(), req.IntentID)
	p.renderValidation(w, r, a, err)
}

// renderValidation reports rejected evidence as a regular response so the
// caller can retry with corrected input; only internal failures are errors.
func (p *Presenter) renderValidation(w http.ResponseWriter, r *http.Request, a *entity.Approval, err error) {
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			render.Error(w, r, err)
			return
		}
		render.JSON(w, r, http.StatusOK, &ValidationResponse{Valid: false, Message: err.Error()})
		return
	}
	render.JSON(w, r, http.StatusOK, &ValidationResponse{
		Valid:             true,
		ApprovalSignature: base64.StdEncoding.EncodeToString(a.Signature),
		Message:           fmt.Sprintf("intent %s approved", a.IntentID),
	})
}

func (p *Presenter) GetApproval(w http.ResponseWriter, r *http.Request) {
	intentID := mw.IntentID(r.Context())
	a, err := p.service.Approval(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			render.JSON(w, r, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no approval for intent %s", intentID)})
			return
		}
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, &ApprovalResponse{
		IntentID:  a.IntentID,
		Path:      a.Path,
		Scheme:    a.Scheme,
		Signature: base64.StdEncoding.EncodeToString(a.Signature),
		CreatedAt: a.CreatedAt,
	})
}

// GetDeliveries lists every relay attempt record for messages about an intent.
func (p *Presenter) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := p.deliveries.FindByIntentID(r.Context(), mw.IntentID(r.Context()))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, &DeliveriesResponse{Count: len(deliveries), Deliveries: deliveries})
}

func (p *Presenter) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	key := p.service.PublicKey()
	render.JSON(w, r, http.StatusOK, &PublicKeyResponse{
		Scheme:    p.service.Scheme(),
		PublicKey: base64.StdEncoding.EncodeToString(key),
		Native:    approval.FormatPublicKey(p.service.Scheme(), key),
	})
}

func (p *Presenter) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *Presenter) Events(w http.ResponseWriter, r *http.Request) {
	events := p.feed.Recent(mw.Limit(r.Context()))
	render.JSON(w, r, http.StatusOK, &EventsResponse{Count: len(events), Events: events})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("can't decode request body: %w", err)
	}
	return nil
}
