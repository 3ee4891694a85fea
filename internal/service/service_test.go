package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mmeshcher/foodmarket-system/internal/geocoder"
	"github.com/mmeshcher/foodmarket-system/internal/lifecycle"
	"github.com/mmeshcher/foodmarket-system/internal/model"
	"github.com/mmeshcher/foodmarket-system/internal/pricing"
	"github.com/mmeshcher/foodmarket-system/internal/repository"
)

type stubRepo struct {
	createdOrder *model.Order
	createErr    error

	order  *model.Order
	getErr error

	updateErr     error
	updatedTarget model.OrderStatus
	updatedDriver *int64
	updatedReason string
	updateCalls   int

	settleEntries []model.SettlementEntry
	settleErr     error
	settleCalls   int

	correction    *model.SettlementEntry
	correctionErr error

	sum    int64
	sumErr error

	history []model.StatusChange

	unsettled []uuid.UUID
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) error {
	s.createdOrder = o
	return s.createErr
}

func (s *stubRepo) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubRepo) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]model.StatusChange, error) {
	return s.history, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, target model.OrderStatus, actorID int64, driverID *int64, reason string) error {
	s.updateCalls++
	s.updatedTarget = target
	s.updatedDriver = driverID
	s.updatedReason = reason
	return s.updateErr
}

func (s *stubRepo) RecordSettlement(ctx context.Context, o *model.Order) ([]model.SettlementEntry, error) {
	s.settleCalls++
	return s.settleEntries, s.settleErr
}

func (s *stubRepo) RecordCorrection(ctx context.Context, orderID uuid.UUID, party model.Party, partyID int64, amountMinor int64, reason string) (*model.SettlementEntry, error) {
	return s.correction, s.correctionErr
}

func (s *stubRepo) SumEntriesByParty(ctx context.Context, party model.Party, partyID int64) (int64, error) {
	return s.sum, s.sumErr
}

func (s *stubRepo) GetEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]model.SettlementEntry, error) {
	return s.settleEntries, nil
}

func (s *stubRepo) GetUnsettledDelivered(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.unsettled, nil
}

type stubGeocoder struct {
	coords   geocoder.Coordinates
	resolved bool
	err      error
	calls    int
}

func (g *stubGeocoder) Geocode(ctx context.Context, address string) (geocoder.Coordinates, bool, error) {
	g.calls++
	return g.coords, g.resolved, g.err
}

func testFees() model.FeeConfig {
	return model.FeeConfig{
		DeliveryFeeMinor:      2500,
		ServiceFeeMinor:       500,
		TaxRateBasisPoints:    1000,
		CommissionBasisPoints: 2000,
		DriverPayoutMinor:     2000,
	}
}

func testItems() []model.LineItem {
	return []model.LineItem{
		{CatalogItemID: 1, UnitPriceMinor: 5000, Quantity: 2},
		{CatalogItemID: 2, UnitPriceMinor: 2000, Quantity: 1},
	}
}

func testOrder(status model.OrderStatus) *model.Order {
	items := testItems()
	b, _ := pricing.Compute(items, testFees())
	return &model.Order{
		ID:           uuid.New(),
		CustomerID:   10,
		RestaurantID: 20,
		Items:        items,
		Fees:         testFees(),
		Breakdown:    b,
		Status:       status,
		Version:      3,
	}
}

func TestCreateOrder_StoresSnapshotAndBreakdown(t *testing.T) {
	repo := &stubRepo{}
	geo := &stubGeocoder{coords: geocoder.Coordinates{Latitude: 40.1, Longitude: -73.5}, resolved: true}
	svc := NewService(repo, geo, nil)

	o, err := svc.CreateOrder(context.Background(), 10, 20, testItems(), testFees(), "1 Main St")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if o.Status != model.OrderStatusPending {
		t.Fatalf("status = %s, want pending", o.Status)
	}
	if o.Breakdown.TotalMinor != 16200 {
		t.Fatalf("total = %d, want 16200", o.Breakdown.TotalMinor)
	}
	if o.Fees != testFees() {
		t.Fatalf("fee snapshot not stored: %+v", o.Fees)
	}
	if o.Latitude != 40.1 || o.Longitude != -73.5 {
		t.Fatalf("coords = (%v, %v)", o.Latitude, o.Longitude)
	}
	if repo.createdOrder != o {
		t.Fatalf("order was not persisted")
	}
	if geo.calls != 1 {
		t.Fatalf("geocoder calls = %d, want 1", geo.calls)
	}
}

func TestCreateOrder_GeocodeFailureNotFatal(t *testing.T) {
	repo := &stubRepo{}
	geo := &stubGeocoder{err: errors.New("geocoder down")}
	svc := NewService(repo, geo, nil)

	o, err := svc.CreateOrder(context.Background(), 10, 20, testItems(), testFees(), "1 Main St")
	if err != nil {
		t.Fatalf("CreateOrder must succeed on geocode failure, got %v", err)
	}
	if o.Latitude != 0 || o.Longitude != 0 {
		t.Fatalf("coords must fall back to (0, 0), got (%v, %v)", o.Latitude, o.Longitude)
	}
}

func TestCreateOrder_RejectsEmptyOrder(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	_, err := svc.CreateOrder(context.Background(), 10, 20, nil, testFees(), "1 Main St")
	if !errors.Is(err, pricing.ErrEmptyOrder) {
		t.Fatalf("error = %v, want ErrEmptyOrder", err)
	}
}

func TestTransitionOrder_HappyStep(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusPending)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusConfirmed, 20, nil, "")
	if err != nil {
		t.Fatalf("TransitionOrder error: %v", err)
	}
	if repo.updatedTarget != model.OrderStatusConfirmed {
		t.Fatalf("updated target = %s", repo.updatedTarget)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("settlement must not be triggered, calls = %d", repo.settleCalls)
	}
}

func TestTransitionOrder_IllegalSkip(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusPending)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusDriverAssigned, 20, nil, "")

	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransitionError", err)
	}
	if repo.updateCalls != 0 {
		t.Fatalf("illegal transition must not touch storage, update calls = %d", repo.updateCalls)
	}
}

func TestTransitionOrder_UnknownStatus(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusPending)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatus("lost"), 20, nil, "")
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("error = %v, want ErrUnknownStatus", err)
	}
}

func TestTransitionOrder_DriverRequestedRequiresRestaurantActor(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusReady)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusDriverRequested, 99, nil, "")
	if !errors.Is(err, ErrActorNotPermitted) {
		t.Fatalf("error = %v, want ErrActorNotPermitted", err)
	}

	_, err = svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusDriverRequested, 20, nil, "")
	if err != nil {
		t.Fatalf("restaurant actor must be allowed, got %v", err)
	}
}

func TestTransitionOrder_DriverAssignedRequiresDriver(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusDriverRequested)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusDriverAssigned, 20, nil, "")
	if !errors.Is(err, ErrDriverRequired) {
		t.Fatalf("error = %v, want ErrDriverRequired", err)
	}

	driver := int64(77)
	_, err = svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusDriverAssigned, 20, &driver, "")
	if err != nil {
		t.Fatalf("assignment with driver must succeed, got %v", err)
	}
	if repo.updatedDriver == nil || *repo.updatedDriver != 77 {
		t.Fatalf("driver must be attached atomically with the transition")
	}
}

func TestTransitionOrder_LateCancellationRequiresReason(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusPreparing)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusCancelled, 10, nil, "")
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("error = %v, want ErrReasonRequired", err)
	}

	_, err = svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusCancelled, 10, nil, "courier unavailable")
	if err != nil {
		t.Fatalf("cancellation with reason must succeed, got %v", err)
	}
	if repo.updatedReason != "courier unavailable" {
		t.Fatalf("reason not recorded: %q", repo.updatedReason)
	}
}

func TestTransitionOrder_EarlyCancellationUnconditional(t *testing.T) {
	repo := &stubRepo{order: testOrder(model.OrderStatusConfirmed)}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusCancelled, 10, nil, "")
	if err != nil {
		t.Fatalf("cancellation from confirmed must not require a reason, got %v", err)
	}
}

func TestTransitionOrder_DeliveredTriggersSettlement(t *testing.T) {
	driver := int64(77)
	order := testOrder(model.OrderStatusOnTheWay)
	order.DriverID = &driver
	repo := &stubRepo{order: order}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), order.ID, model.OrderStatusDelivered, 77, nil, "")
	if err != nil {
		t.Fatalf("TransitionOrder error: %v", err)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("settlement calls = %d, want 1", repo.settleCalls)
	}
}

func TestTransitionOrder_SettlementFailureSurfaces(t *testing.T) {
	driver := int64(77)
	order := testOrder(model.OrderStatusOnTheWay)
	order.DriverID = &driver
	dbErr := errors.New("database unavailable")
	repo := &stubRepo{order: order, settleErr: dbErr}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), order.ID, model.OrderStatusDelivered, 77, nil, "")
	if !errors.Is(err, dbErr) {
		t.Fatalf("error = %v, want wrapped %v", err, dbErr)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("settlement attempts = %d, want 1", repo.settleCalls)
	}
}

func TestTransitionOrder_DeliveredRetrySettlementFailureSurfaces(t *testing.T) {
	driver := int64(77)
	order := testOrder(model.OrderStatusDelivered)
	order.DriverID = &driver
	dbErr := errors.New("database unavailable")
	repo := &stubRepo{order: order, settleErr: dbErr}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), order.ID, model.OrderStatusDelivered, 77, nil, "")
	if !errors.Is(err, dbErr) {
		t.Fatalf("error = %v, want wrapped %v", err, dbErr)
	}
}

func TestTransitionOrder_DeliveredRetryIsNoOp(t *testing.T) {
	driver := int64(77)
	order := testOrder(model.OrderStatusDelivered)
	order.DriverID = &driver
	repo := &stubRepo{order: order, settleErr: repository.ErrAlreadySettled}
	svc := NewService(repo, nil, nil)

	got, err := svc.TransitionOrder(context.Background(), order.ID, model.OrderStatusDelivered, 77, nil, "")
	if err != nil {
		t.Fatalf("delivered retry must succeed, got %v", err)
	}
	if got != order {
		t.Fatalf("retry must return the stored order")
	}
	if repo.updateCalls != 0 {
		t.Fatalf("retry must not append status history, update calls = %d", repo.updateCalls)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("retry must re-attempt settlement exactly once, calls = %d", repo.settleCalls)
	}
}

func TestTransitionOrder_PropagatesConcurrentModification(t *testing.T) {
	repo := &stubRepo{
		order:     testOrder(model.OrderStatusPending),
		updateErr: repository.ErrConcurrentModification,
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), repo.order.ID, model.OrderStatusConfirmed, 20, nil, "")
	if !errors.Is(err, repository.ErrConcurrentModification) {
		t.Fatalf("error = %v, want ErrConcurrentModification", err)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("failed transition must not trigger settlement")
	}
}

func TestGetEarnings_ValidatesParty(t *testing.T) {
	repo := &stubRepo{sum: 12345}
	svc := NewService(repo, nil, nil)

	got, err := svc.GetEarnings(context.Background(), model.PartyDriver, 77)
	if err != nil {
		t.Fatalf("GetEarnings error: %v", err)
	}
	if got != 12345 {
		t.Fatalf("earnings = %d, want 12345", got)
	}

	_, err = svc.GetEarnings(context.Background(), model.Party("imposter"), 77)
	if !errors.Is(err, ErrUnknownParty) {
		t.Fatalf("error = %v, want ErrUnknownParty", err)
	}
}

func TestGetStatusHistory_UnknownOrder(t *testing.T) {
	repo := &stubRepo{getErr: repository.ErrOrderNotFound}
	svc := NewService(repo, nil, nil)

	_, err := svc.GetStatusHistory(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestGetSettlementEntries_UnknownOrder(t *testing.T) {
	repo := &stubRepo{getErr: repository.ErrOrderNotFound}
	svc := NewService(repo, nil, nil)

	_, err := svc.GetSettlementEntries(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestRecordCorrection_RequiresReason(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	_, err := svc.RecordCorrection(context.Background(), uuid.New(), model.PartyDriver, 77, -500, "")
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("error = %v, want ErrReasonRequired", err)
	}
}

func TestRepairSettlementBatch(t *testing.T) {
	driver := int64(77)
	order := testOrder(model.OrderStatusDelivered)
	order.DriverID = &driver
	repo := &stubRepo{
		order:     order,
		unsettled: []uuid.UUID{order.ID, order.ID},
		settleErr: repository.ErrAlreadySettled,
	}
	svc := NewService(repo, nil, nil)

	svc.repairSettlementBatch(context.Background())

	if repo.settleCalls != 2 {
		t.Fatalf("settlement attempts = %d, want 2", repo.settleCalls)
	}
}
