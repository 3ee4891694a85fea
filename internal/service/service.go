// Package service реализует бизнес-логику маркетплейса доставки еды.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/foodmarket-system/internal/geocoder"
	"github.com/mmeshcher/foodmarket-system/internal/lifecycle"
	"github.com/mmeshcher/foodmarket-system/internal/model"
	"github.com/mmeshcher/foodmarket-system/internal/pricing"
	"github.com/mmeshcher/foodmarket-system/internal/repository"
)

// ErrUnknownStatus возвращается при запросе перехода в неизвестный статус.
var (
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrActorNotPermitted возвращается, если действие запрошено не той стороной.
	ErrActorNotPermitted = errors.New("actor not permitted for this transition")
	// ErrDriverRequired возвращается при назначении курьера без идентификатора курьера.
	ErrDriverRequired = errors.New("driver id required for assignment")
	// ErrReasonRequired возвращается при отмене без причины после начала приготовления.
	ErrReasonRequired = errors.New("cancellation reason required")
	// ErrUnknownParty возвращается при запросе по неизвестной стороне расчёта.
	ErrUnknownParty = errors.New("unknown settlement party")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]model.StatusChange, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, target model.OrderStatus, actorID int64, driverID *int64, reason string) error
	RecordSettlement(ctx context.Context, o *model.Order) ([]model.SettlementEntry, error)
	RecordCorrection(ctx context.Context, orderID uuid.UUID, party model.Party, partyID int64, amountMinor int64, reason string) (*model.SettlementEntry, error)
	SumEntriesByParty(ctx context.Context, party model.Party, partyID int64) (int64, error)
	GetEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]model.SettlementEntry, error)
	GetUnsettledDelivered(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Geocoder описывает контракт клиента геокодирования.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocoder.Coordinates, bool, error)
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo     Repository
	geocoder Geocoder
	logger   *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом геокодирования.
func NewService(repo Repository, geo Geocoder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		geocoder: geo,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrder размещает новый заказ: рассчитывает раскладку из позиций и
// снимка тарифов, геокодирует адрес и сохраняет заказ в статусе pending.
// Ошибка геокодирования не фатальна: координаты остаются (0, 0).
func (s *Service) CreateOrder(
	ctx context.Context,
	customerID, restaurantID int64,
	items []model.LineItem,
	fees model.FeeConfig,
	deliveryAddress string,
) (*model.Order, error) {
	for i := range items {
		items[i].SubtotalMinor = items[i].UnitPriceMinor * items[i].Quantity
	}

	breakdown, err := pricing.Compute(items, fees)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:              uuid.New(),
		CustomerID:      customerID,
		RestaurantID:    restaurantID,
		Items:           items,
		Fees:            fees,
		Breakdown:       breakdown,
		Status:          model.OrderStatusPending,
		Version:         1,
		DeliveryAddress: deliveryAddress,
		CreatedAt:       time.Now(),
	}

	if s.geocoder != nil && deliveryAddress != "" {
		coords, resolved, geoErr := s.geocoder.Geocode(ctx, deliveryAddress)
		switch {
		case geoErr != nil:
			s.logger.Warn("geocode failed, using zero coordinates",
				zap.String("address", deliveryAddress), zap.Error(geoErr))
		case !resolved:
			s.logger.Warn("address unresolved, using zero coordinates",
				zap.String("address", deliveryAddress))
		default:
			o.Latitude = coords.Latitude
			o.Longitude = coords.Longitude
		}
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetBreakdown возвращает сохранённую финансовую раскладку заказа.
func (s *Service) GetBreakdown(ctx context.Context, id uuid.UUID) (*model.PricingBreakdown, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &o.Breakdown, nil
}

// GetStatusHistory возвращает историю статусов заказа.
// Для несуществующего заказа возвращается ErrOrderNotFound, а не пустая история.
func (s *Service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]model.StatusChange, error) {
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, id)
}

// TransitionOrder переводит заказ в новый статус от имени указанного актора.
// Переход в delivered единственный триггер финализации расчётов; повторное
// проведение подавляется журналом и трактуется как успех.
func (s *Service) TransitionOrder(
	ctx context.Context,
	orderID uuid.UUID,
	target model.OrderStatus,
	actorID int64,
	driverID *int64,
	reason string,
) (*model.Order, error) {
	if !lifecycle.Known(target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Повтор delivered -> delivered: история не дописывается, выполняется
	// только попытка проведения расчёта, которую журнал схлопывает в no-op.
	if o.Status == model.OrderStatusDelivered && target == model.OrderStatusDelivered {
		if err := s.settle(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	}

	if err := lifecycle.Validate(o.Status, target); err != nil {
		return nil, err
	}

	switch target {
	case model.OrderStatusDriverRequested:
		if !lifecycle.RequestableDriverFrom(o.Status) {
			return nil, &lifecycle.TransitionError{Current: o.Status, Requested: target}
		}
		if actorID != o.RestaurantID {
			return nil, fmt.Errorf("%w: driver request allowed only for restaurant %d", ErrActorNotPermitted, o.RestaurantID)
		}
	case model.OrderStatusDriverAssigned:
		if driverID == nil {
			return nil, ErrDriverRequired
		}
	case model.OrderStatusCancelled:
		if lifecycle.RequiresReason(o.Status, target) && reason == "" {
			return nil, ErrReasonRequired
		}
	}

	if target != model.OrderStatusDriverAssigned {
		driverID = nil
	}

	if err := s.repo.UpdateOrderStatus(ctx, o.ID, o.Version, target, actorID, driverID, reason); err != nil {
		return nil, err
	}

	if target == model.OrderStatusDelivered {
		if err := s.settle(ctx, o); err != nil {
			return nil, err
		}
	}

	return s.repo.GetOrder(ctx, o.ID)
}

// settle проводит расчёт по заказу. ErrAlreadySettled считается успехом:
// повторные вызовы при ретраях не должны приводить к двойному проведению.
// Любая другая ошибка записи возвращается вызывающему: доставка без
// проведённого расчёта не отчитывается как успех.
func (s *Service) settle(ctx context.Context, o *model.Order) error {
	_, err := s.repo.RecordSettlement(ctx, o)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			s.logger.Info("settlement already recorded", zap.String("order", o.ID.String()))
			return nil
		}
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// GetEarnings возвращает суммарный заработок стороны, вычисленный строго
// по журналу расчётов.
func (s *Service) GetEarnings(ctx context.Context, party model.Party, partyID int64) (int64, error) {
	if !model.ValidParty(party) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParty, party)
	}
	return s.repo.SumEntriesByParty(ctx, party, partyID)
}

// GetSettlementEntries возвращает все записи журнала по заказу.
// Для несуществующего заказа возвращается ErrOrderNotFound.
func (s *Service) GetSettlementEntries(ctx context.Context, orderID uuid.UUID) ([]model.SettlementEntry, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.GetEntriesByOrder(ctx, orderID)
}

// RecordCorrection добавляет компенсирующую запись в журнал расчётов.
func (s *Service) RecordCorrection(
	ctx context.Context,
	orderID uuid.UUID,
	party model.Party,
	partyID int64,
	amountMinor int64,
	reason string,
) (*model.SettlementEntry, error) {
	if !model.ValidParty(party) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParty, party)
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.repo.RecordCorrection(ctx, orderID, party, partyID, amountMinor, reason)
}

// StartSettlementRepair запускает фоновый процесс допроведения расчётов
// по доставленным заказам без записей в журнале. Благодаря идемпотентности
// журнала процесс безопасно запускать сколько угодно раз.
func (s *Service) StartSettlementRepair(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.repairSettlementBatch(ctx)
			}
		}
	}()
}

func (s *Service) repairSettlementBatch(ctx context.Context) {
	ids, err := s.repo.GetUnsettledDelivered(ctx, 100)
	if err != nil {
		s.logger.Error("list unsettled orders", zap.Error(err))
		return
	}

	for _, id := range ids {
		o, err := s.repo.GetOrder(ctx, id)
		if err != nil {
			s.logger.Error("load unsettled order", zap.String("order", id.String()), zap.Error(err))
			continue
		}
		if err := s.settle(ctx, o); err != nil {
			s.logger.Error("repair settlement", zap.String("order", id.String()), zap.Error(err))
		}
	}
}
