// Package pricing реализует расчёт финансовой раскладки заказа.
package pricing

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/foodmarket-system/internal/model"
	"github.com/mmeshcher/foodmarket-system/internal/money"
)

// ErrEmptyOrder возвращается при попытке рассчитать заказ без позиций.
var (
	ErrEmptyOrder = errors.New("order has no line items")
	// ErrInvalidPricing возвращается при отрицательной сумме или отрицательном компоненте расчёта.
	ErrInvalidPricing = errors.New("invalid pricing")
	// ErrInvalidRate возвращается, если ставка в базисных пунктах вне диапазона [0, 10000].
	ErrInvalidRate = errors.New("rate out of range")
)

// Compute вычисляет раскладку заказа из позиций и снимка тарифов.
// Функция чистая: без побочных эффектов и детерминированная для одинаковых входов.
// Налог и комиссия округляются независимо от одного и того же subtotal,
// поэтому повторный расчёт всегда даёт байт-в-байт ту же раскладку.
func Compute(items []model.LineItem, cfg model.FeeConfig) (model.PricingBreakdown, error) {
	var b model.PricingBreakdown

	if len(items) == 0 {
		return b, ErrEmptyOrder
	}

	if !money.ValidBasisPoints(cfg.TaxRateBasisPoints) {
		return b, fmt.Errorf("%w: tax rate %d bp", ErrInvalidRate, cfg.TaxRateBasisPoints)
	}
	if !money.ValidBasisPoints(cfg.CommissionBasisPoints) {
		return b, fmt.Errorf("%w: commission rate %d bp", ErrInvalidRate, cfg.CommissionBasisPoints)
	}

	if cfg.DeliveryFeeMinor < 0 || cfg.ServiceFeeMinor < 0 || cfg.DriverPayoutMinor < 0 || cfg.DiscountMinor < 0 {
		return b, fmt.Errorf("%w: negative fee component", ErrInvalidPricing)
	}

	var subtotal int64
	for _, it := range items {
		if it.Quantity < 1 {
			return b, fmt.Errorf("%w: item %d has non-positive quantity %d", ErrInvalidPricing, it.CatalogItemID, it.Quantity)
		}
		if it.UnitPriceMinor <= 0 {
			return b, fmt.Errorf("%w: item %d has non-positive unit price %d", ErrInvalidPricing, it.CatalogItemID, it.UnitPriceMinor)
		}
		subtotal += it.UnitPriceMinor * it.Quantity
	}

	tax := money.RoundHalfUpBasisPoints(subtotal, cfg.TaxRateBasisPoints)
	total := subtotal + cfg.DeliveryFeeMinor + cfg.ServiceFeeMinor + tax - cfg.DiscountMinor
	if total < 0 {
		return b, fmt.Errorf("%w: total %d is negative", ErrInvalidPricing, total)
	}

	commission := money.RoundHalfUpBasisPoints(subtotal, cfg.CommissionBasisPoints)
	restaurantPayout := subtotal - commission

	// Прибыль платформы может быть отрицательной, если выплата курьеру
	// превышает плату за доставку — платформа субсидирует доставку.
	platformProfit := commission + cfg.ServiceFeeMinor + (cfg.DeliveryFeeMinor - cfg.DriverPayoutMinor)

	b = model.PricingBreakdown{
		SubtotalMinor:         subtotal,
		DeliveryFeeMinor:      cfg.DeliveryFeeMinor,
		ServiceFeeMinor:       cfg.ServiceFeeMinor,
		TaxMinor:              tax,
		DiscountMinor:         cfg.DiscountMinor,
		TotalMinor:            total,
		CommissionMinor:       commission,
		RestaurantPayoutMinor: restaurantPayout,
		DriverPayoutMinor:     cfg.DriverPayoutMinor,
		PlatformProfitMinor:   platformProfit,
	}

	return b, nil
}
