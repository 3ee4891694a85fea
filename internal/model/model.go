// Package model содержит доменные сущности маркетплейса доставки еды.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус заказа в жизненном цикле доставки.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusReady           OrderStatus = "ready"
	OrderStatusDriverRequested OrderStatus = "driver_requested"
	OrderStatusDriverAssigned  OrderStatus = "driver_assigned"
	OrderStatusPickedUp        OrderStatus = "picked_up"
	OrderStatusOnTheWay        OrderStatus = "on_the_way"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRefunded        OrderStatus = "refunded"
)

// Party обозначает сторону расчёта: платформа, ресторан или курьер.
type Party string

const (
	PartyPlatform   Party = "platform"
	PartyRestaurant Party = "restaurant"
	PartyDriver     Party = "driver"
)

// ValidParty сообщает, является ли строка известной стороной расчёта.
func ValidParty(p Party) bool {
	return p == PartyPlatform || p == PartyRestaurant || p == PartyDriver
}

// LineItem описывает одну позицию заказа. Позиции неизменяемы после создания заказа.
type LineItem struct {
	CatalogItemID  int64
	UnitPriceMinor int64
	Quantity       int64
	SubtotalMinor  int64
}

// FeeConfig содержит снимок тарифов, зафиксированный при создании заказа.
// Снимок гарантирует, что последующие изменения глобальных тарифов
// не меняют расчёт уже размещённого заказа.
type FeeConfig struct {
	DeliveryFeeMinor      int64
	ServiceFeeMinor       int64
	TaxRateBasisPoints    int64
	CommissionBasisPoints int64
	DriverPayoutMinor     int64
	DiscountMinor         int64
}

// PricingBreakdown содержит полную финансовую раскладку заказа в минорных единицах.
// Раскладка вычисляется один раз и полностью воспроизводима из позиций и снимка тарифов.
type PricingBreakdown struct {
	SubtotalMinor         int64 `json:"subtotal"`
	DeliveryFeeMinor      int64 `json:"delivery_fee"`
	ServiceFeeMinor       int64 `json:"service_fee"`
	TaxMinor              int64 `json:"tax"`
	DiscountMinor         int64 `json:"discount"`
	TotalMinor            int64 `json:"total"`
	CommissionMinor       int64 `json:"platform_commission"`
	RestaurantPayoutMinor int64 `json:"restaurant_payout"`
	DriverPayoutMinor     int64 `json:"driver_payout"`
	PlatformProfitMinor   int64 `json:"platform_profit"`
}

// StatusChange описывает одну запись в истории статусов заказа.
type StatusChange struct {
	Status    OrderStatus
	ActorID   int64
	Reason    string
	ChangedAt time.Time
}

// Order — агрегат заказа. Изменяется только через переходы жизненного цикла,
// поле Version служит для оптимистической блокировки.
type Order struct {
	ID              uuid.UUID
	CustomerID      int64
	RestaurantID    int64
	DriverID        *int64
	Items           []LineItem
	Fees            FeeConfig
	Breakdown       PricingBreakdown
	Status          OrderStatus
	Version         int64
	DeliveryAddress string
	Latitude        float64
	Longitude       float64
	CreatedAt       time.Time
}

// SettlementEntry — запись в журнале расчётов. Журнал только дополняется:
// исправления делаются компенсирующими записями, никогда правкой существующих.
type SettlementEntry struct {
	ID          int64
	OrderID     uuid.UUID
	Party       Party
	PartyID     int64
	AmountMinor int64
	Correction  bool
	Reason      string
	RecordedAt  time.Time
}
