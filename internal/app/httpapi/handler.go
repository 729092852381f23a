// Package httpapi exposes the checkout, plan and entitlement services over
// REST, plus a WebSocket stream for live submission status.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	checkoutdomain "github.com/MyFanss/MyFans-sub002/internal/app/domain/checkout"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/plan"
	"github.com/MyFanss/MyFans-sub002/internal/app/metrics"
	checkoutsvc "github.com/MyFanss/MyFans-sub002/internal/app/services/checkout"
	entitlementsvc "github.com/MyFanss/MyFans-sub002/internal/app/services/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// Deps bundles the services the API fronts.
type Deps struct {
	Checkout     *checkoutsvc.Service
	Entitlements *entitlementsvc.Resolver
	Plans        storage.PlanStore
	Log          *logger.Logger
}

type handler struct {
	checkout     *checkoutsvc.Service
	entitlements *entitlementsvc.Resolver
	plans        storage.PlanStore
	upgrader     websocket.Upgrader
	log          *logger.Logger
}

// NewHandler returns the routed, instrumented API handler.
func NewHandler(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		checkout:     deps.Checkout,
		entitlements: deps.Entitlements,
		plans:        deps.Plans,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:          log,
	}

	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/plans", func(r chi.Router) {
		r.Post("/", h.createPlan)
		r.Get("/", h.listPlans)
		r.Get("/{id}", h.getPlan)
		r.Put("/{id}", h.updatePlan)
	})

	r.Route("/subscriptions/checkout", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Get("/{id}", h.getSession)
		r.Get("/{id}/price", h.priceBreakdown)
		r.Get("/{id}/wallet", h.walletStatus)
		r.Get("/{id}/preview", h.preview)
		r.Post("/{id}/validate-balance", h.validateBalance)
		r.Post("/{id}/submit", h.submitSigned)
		r.Get("/{id}/status", h.sessionStatus)
		r.Get("/{id}/await", h.awaitSession)
		r.Get("/{id}/stream", h.streamStatus)
		r.Get("/by-envelope/{hash}", h.sessionByEnvelope)
	})

	r.Get("/entitlements/{fan}/{creator}", h.checkEntitlement)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- plans ------------------------------------------------------------------

type planPayload struct {
	CreatorAddress string `json:"creator_address"`
	CreatorName    string `json:"creator_name"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	AssetCode      string `json:"asset_code"`
	AssetIssuer    string `json:"asset_issuer"`
	Amount         string `json:"amount"`
	IntervalDays   int    `json:"interval_days"`
	Active         bool   `json:"active"`
}

type planView struct {
	ID int64 `json:"id"`
	planPayload
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPlanView(p plan.Plan) planView {
	return planView{
		ID: p.ID,
		planPayload: planPayload{
			CreatorAddress: p.CreatorAddress,
			CreatorName:    p.CreatorName,
			Name:           p.Name,
			Description:    p.Description,
			AssetCode:      p.AssetCode,
			AssetIssuer:    p.AssetIssuer,
			Amount:         p.Amount,
			IntervalDays:   p.IntervalDays,
			Active:         p.Active,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var payload planPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.plans.CreatePlan(r.Context(), plan.Plan{
		CreatorAddress: payload.CreatorAddress,
		CreatorName:    payload.CreatorName,
		Name:           payload.Name,
		Description:    payload.Description,
		AssetCode:      payload.AssetCode,
		AssetIssuer:    payload.AssetIssuer,
		Amount:         payload.Amount,
		IntervalDays:   payload.IntervalDays,
		Active:         payload.Active,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanView(created))
}

func (h *handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("plan id must be numeric"))
		return
	}

	var payload planPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.plans.UpdatePlan(r.Context(), plan.Plan{
		ID:             id,
		CreatorAddress: payload.CreatorAddress,
		CreatorName:    payload.CreatorName,
		Name:           payload.Name,
		Description:    payload.Description,
		AssetCode:      payload.AssetCode,
		AssetIssuer:    payload.AssetIssuer,
		Amount:         payload.Amount,
		IntervalDays:   payload.IntervalDays,
		Active:         payload.Active,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanView(updated))
}

func (h *handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("plan id must be numeric"))
		return
	}
	p, err := h.plans.GetPlan(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanView(p))
}

func (h *handler) listPlans(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		writeError(w, http.StatusBadRequest, errors.New("creator query parameter is required"))
		return
	}
	plans, err := h.plans.ListPlansByCreator(r.Context(), creator)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, toPlanView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

// --- checkout ---------------------------------------------------------------

type sessionView struct {
	ID             string    `json:"id"`
	FanAddress     string    `json:"fan_address"`
	CreatorAddress string    `json:"creator_address"`
	PlanID         int64     `json:"plan_id"`
	AssetCode      string    `json:"asset_code"`
	Amount         string    `json:"amount"`
	PlatformFee    string    `json:"platform_fee"`
	NetworkFee     string    `json:"network_fee"`
	Total          string    `json:"total"`
	State          string    `json:"state"`
	TxHash         string    `json:"tx_hash,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func toSessionView(s checkoutdomain.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		FanAddress:     s.FanAddress,
		CreatorAddress: s.CreatorAddress,
		PlanID:         s.PlanID,
		AssetCode:      s.AssetCode,
		Amount:         s.Amount,
		PlatformFee:    s.PlatformFee,
		NetworkFee:     s.NetworkFee,
		Total:          s.Total,
		State:          string(s.State),
		TxHash:         s.TxHash,
		LastError:      s.LastError,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
	}
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FanAddress string `json:"fan_address"`
		PlanID     int64  `json:"plan_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := h.checkout.CreateSession(r.Context(), payload.FanAddress, payload.PlanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(sess))
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(sess))
}

func (h *handler) priceBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.checkout.PriceBreakdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"subtotal":     breakdown.Subtotal,
		"platform_fee": breakdown.PlatformFee,
		"network_fee":  breakdown.NetworkFee,
		"total":        breakdown.Total,
		"currency":     breakdown.Currency,
	})
}

func (h *handler) walletStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.checkout.WalletStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	type balanceView struct {
		Code     string `json:"code"`
		Issuer   string `json:"issuer,omitempty"`
		Balance  string `json:"balance"`
		IsNative bool   `json:"is_native"`
	}
	balances := make([]balanceView, 0, len(status.Balances))
	for _, b := range status.Balances {
		balances = append(balances, balanceView{Code: b.Code, Issuer: b.Issuer, Balance: b.Balance, IsNative: b.IsNative})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  status.Address,
		"balances": balances,
	})
}

func (h *handler) preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.checkout.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_id": preview.CheckoutID,
		"from":        preview.From,
		"to":          preview.To,
		"asset_code":  preview.AssetCode,
		"amount":      preview.Amount,
		"fee":         preview.Fee,
		"total":       preview.Total,
		"memo":        preview.Memo,
	})
}

func (h *handler) validateBalance(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.ValidateBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     v.Valid,
		"balance":   v.Balance,
		"shortfall": v.Shortfall,
	})
}

func (h *handler) submitSigned(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		XDR  string `json:"xdr"`
		Hash string `json:"hash"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.XDR == "" {
		writeError(w, http.StatusBadRequest, errors.New("xdr is required"))
		return
	}

	sess, err := h.checkout.SubmitSigned(r.Context(), chi.URLParam(r, "id"),
		payment.SignedEnvelope{XDR: payload.XDR, Hash: payload.Hash})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionView(sess))
}

func (h *handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_id":   sess.ID,
		"state":         string(sess.State),
		"tx_hash":       sess.TxHash,
		"envelope_hash": sess.EnvelopeHash,
		"error":         sess.LastError,
	})
}

// awaitSession blocks until the session settles and returns it. The long poll
// is bounded by the request context, so callers control the deadline.
func (h *handler) awaitSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.AwaitResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(sess))
}

func (h *handler) sessionByEnvelope(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.SessionByEnvelopeHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(sess))
}

// streamStatus upgrades to a WebSocket and forwards submission snapshots as
// they happen, closing once the chain reaches its end.
func (h *handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	watch, err := h.checkout.Watch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		watch.Close()
		return
	}
	defer conn.Close()
	defer watch.Close()

	type statusEvent struct {
		State  string    `json:"state"`
		TxHash string    `json:"tx_hash,omitempty"`
		Error  string    `json:"error,omitempty"`
		At     time.Time `json:"at"`
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-watch.Updates():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			event := statusEvent{State: string(snap.State), TxHash: snap.TransactionHash, At: snap.At}
			if snap.Err != nil {
				event.Error = snap.Err.Error()
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

// --- entitlements -----------------------------------------------------------

func (h *handler) checkEntitlement(w http.ResponseWriter, r *http.Request) {
	fan := chi.URLParam(r, "fan")
	creator := chi.URLParam(r, "creator")

	expiry, found, err := h.entitlements.Expiry(r.Context(), fan, creator)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	entitled := found && expiry > time.Now().Unix()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fan_address":     fan,
		"creator_address": creator,
		"entitled":        entitled,
		"expires_at":      expiry,
	})
}

// --- helpers ----------------------------------------------------------------

// writeServiceError maps domain error kinds onto HTTP statuses.
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case payment.IsKind(err, payment.KindInvalidIntent):
		writeError(w, http.StatusBadRequest, err)
	case payment.IsKind(err, payment.KindAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	case payment.IsKind(err, payment.KindLedgerUnavailable),
		payment.IsKind(err, payment.KindSignerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case payment.IsKind(err, payment.KindUserRejected):
		writeError(w, http.StatusConflict, err)
	default:
		h.log.WithError(err).Errorf("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
