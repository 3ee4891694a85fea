// Package handler содержит HTTP-обработчики API маркетплейса доставки еды.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/foodmarket-system/internal/lifecycle"
	"github.com/mmeshcher/foodmarket-system/internal/middleware"
	"github.com/mmeshcher/foodmarket-system/internal/model"
	"github.com/mmeshcher/foodmarket-system/internal/money"
	"github.com/mmeshcher/foodmarket-system/internal/pricing"
	"github.com/mmeshcher/foodmarket-system/internal/repository"
	"github.com/mmeshcher/foodmarket-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, customerID, restaurantID int64, items []model.LineItem, fees model.FeeConfig, deliveryAddress string) (*model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetBreakdown(ctx context.Context, id uuid.UUID) (*model.PricingBreakdown, error)
	GetStatusHistory(ctx context.Context, id uuid.UUID) ([]model.StatusChange, error)
	TransitionOrder(ctx context.Context, orderID uuid.UUID, target model.OrderStatus, actorID int64, driverID *int64, reason string) (*model.Order, error)
	GetEarnings(ctx context.Context, party model.Party, partyID int64) (int64, error)
	GetSettlementEntries(ctx context.Context, orderID uuid.UUID) ([]model.SettlementEntry, error)
	RecordCorrection(ctx context.Context, orderID uuid.UUID, party model.Party, partyID int64, amountMinor int64, reason string) (*model.SettlementEntry, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service         Service
	logger          *zap.Logger
	actorMiddleware *middleware.ActorMiddleware
	platformFees    model.FeeConfig
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// platformFees — текущие тарифы платформы; при создании заказа они
// копируются в снимок заказа и больше никогда не перечитываются.
func NewHandler(s Service, logger *zap.Logger, actor *middleware.ActorMiddleware, platformFees model.FeeConfig) *Handler {
	return &Handler{
		service:         s,
		logger:          logger,
		actorMiddleware: actor,
		platformFees:    platformFees,
	}
}

type lineItemRequest struct {
	CatalogItemID  int64 `json:"catalog_item_id"`
	UnitPriceMinor int64 `json:"unit_price"`
	Quantity       int64 `json:"quantity"`
}

type createOrderRequest struct {
	RestaurantID    int64             `json:"restaurant_id"`
	Items           []lineItemRequest `json:"items"`
	DeliveryAddress string            `json:"delivery_address"`
	DiscountMinor   int64             `json:"discount"`
}

type lineItemResponse struct {
	CatalogItemID  int64 `json:"catalog_item_id"`
	UnitPriceMinor int64 `json:"unit_price"`
	Quantity       int64 `json:"quantity"`
	SubtotalMinor  int64 `json:"line_subtotal"`
}

type orderResponse struct {
	ID              string                  `json:"id"`
	CustomerID      int64                   `json:"customer_id"`
	RestaurantID    int64                   `json:"restaurant_id"`
	DriverID        *int64                  `json:"driver_id,omitempty"`
	Status          string                  `json:"status"`
	Items           []lineItemResponse      `json:"items"`
	Breakdown       model.PricingBreakdown  `json:"breakdown"`
	DeliveryAddress string                  `json:"delivery_address"`
	Latitude        float64                 `json:"latitude"`
	Longitude       float64                 `json:"longitude"`
	CreatedAt       string                  `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemResponse{
			CatalogItemID:  it.CatalogItemID,
			UnitPriceMinor: it.UnitPriceMinor,
			Quantity:       it.Quantity,
			SubtotalMinor:  it.SubtotalMinor,
		})
	}

	return orderResponse{
		ID:              o.ID.String(),
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		DriverID:        o.DriverID,
		Status:          string(o.Status),
		Items:           items,
		Breakdown:       o.Breakdown,
		DeliveryAddress: o.DeliveryAddress,
		Latitude:        o.Latitude,
		Longitude:       o.Longitude,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func orderIDFromURL(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// CreateOrder размещает новый заказ от имени текущего актора (покупателя).
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.RestaurantID == 0 {
		http.Error(w, "restaurant_id is required", http.StatusBadRequest)
		return
	}

	items := make([]model.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.LineItem{
			CatalogItemID:  it.CatalogItemID,
			UnitPriceMinor: it.UnitPriceMinor,
			Quantity:       it.Quantity,
		})
	}

	fees := h.platformFees
	fees.DiscountMinor = req.DiscountMinor

	o, err := h.service.CreateOrder(r.Context(), actorID, req.RestaurantID, items, fees, req.DeliveryAddress)
	if err != nil {
		if errors.Is(err, pricing.ErrEmptyOrder) ||
			errors.Is(err, pricing.ErrInvalidPricing) ||
			errors.Is(err, pricing.ErrInvalidRate) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("create order error", zap.Error(err), zap.Int64("customerID", actorID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type transitionRequest struct {
	Status   string `json:"status"`
	DriverID *int64 `json:"driver_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// TransitionOrder переводит заказ в новый статус от имени текущего актора.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.TransitionOrder(r.Context(), id, model.OrderStatus(req.Status), actorID, req.DriverID, req.Reason)
	if err != nil {
		var te *lifecycle.TransitionError
		switch {
		case errors.As(err, &te):
			http.Error(w, te.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrConcurrentModification):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrActorNotPermitted):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrUnknownStatus),
			errors.Is(err, service.ErrDriverRequired),
			errors.Is(err, service.ErrReasonRequired):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("transition order error", zap.Error(err),
				zap.String("order", id.String()), zap.String("target", req.Status))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// GetBreakdown возвращает сохранённую финансовую раскладку заказа.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.GetBreakdown(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get breakdown error", zap.Error(err), zap.String("order", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, b)
}

type statusChangeResponse struct {
	Status    string `json:"status"`
	ActorID   int64  `json:"actor_id"`
	Reason    string `json:"reason,omitempty"`
	ChangedAt string `json:"changed_at"`
}

// GetStatusHistory возвращает историю статусов заказа.
func (h *Handler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	history, err := h.service.GetStatusHistory(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get status history error", zap.Error(err), zap.String("order", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(history) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]statusChangeResponse, 0, len(history))
	for _, c := range history {
		resp = append(resp, statusChangeResponse{
			Status:    string(c.Status),
			ActorID:   c.ActorID,
			Reason:    c.Reason,
			ChangedAt: c.ChangedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type settlementEntryResponse struct {
	Party       string `json:"party"`
	PartyID     int64  `json:"party_id"`
	AmountMinor int64  `json:"amount"`
	Correction  bool   `json:"correction"`
	Reason      string `json:"reason,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

// GetSettlementEntries возвращает записи журнала расчётов по заказу.
func (h *Handler) GetSettlementEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetSettlementEntries(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get settlement entries error", zap.Error(err), zap.String("order", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]settlementEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, settlementEntryResponse{
			Party:       string(e.Party),
			PartyID:     e.PartyID,
			AmountMinor: e.AmountMinor,
			Correction:  e.Correction,
			Reason:      e.Reason,
			RecordedAt:  e.RecordedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type correctionRequest struct {
	Party       string `json:"party"`
	PartyID     int64  `json:"party_id"`
	AmountMinor int64  `json:"amount"`
	Reason      string `json:"reason"`
}

// RecordCorrection добавляет компенсирующую запись в журнал расчётов заказа.
func (h *Handler) RecordCorrection(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetActorIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, ok := orderIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.RecordCorrection(r.Context(), id, model.Party(req.Party), req.PartyID, req.AmountMinor, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownParty), errors.Is(err, service.ErrReasonRequired):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("record correction error", zap.Error(err), zap.String("order", id.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, settlementEntryResponse{
		Party:       string(entry.Party),
		PartyID:     entry.PartyID,
		AmountMinor: entry.AmountMinor,
		Correction:  entry.Correction,
		Reason:      entry.Reason,
		RecordedAt:  entry.RecordedAt.Format(time.RFC3339),
	})
}

type earningsResponse struct {
	Party       string `json:"party"`
	PartyID     int64  `json:"party_id"`
	TotalMinor  int64  `json:"total"`
	TotalString string `json:"total_display"`
}

// GetEarnings возвращает суммарный заработок стороны по журналу расчётов.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	party := model.Party(chi.URLParam(r, "party"))

	partyID, err := parseInt64(chi.URLParam(r, "partyID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	total, err := h.service.GetEarnings(r.Context(), party, partyID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownParty) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("get earnings error", zap.Error(err),
			zap.String("party", string(party)), zap.Int64("partyID", partyID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, earningsResponse{
		Party:       string(party),
		PartyID:     partyID,
		TotalMinor:  total,
		TotalString: money.FormatMinor(total),
	})
}
