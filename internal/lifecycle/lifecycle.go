// Package lifecycle определяет допустимые переходы статусов заказа.
package lifecycle

import (
	"fmt"

	"github.com/mmeshcher/foodmarket-system/internal/model"
)

// TransitionError описывает недопустимый переход между статусами заказа.
type TransitionError struct {
	Current   model.OrderStatus
	Requested model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.Current, e.Requested)
}

// transitions — таблица смежности жизненного цикла. Отмена и возврат доступны
// из любого нетерминального статуса; ребро delivered -> delivered служит
// для безопасного повтора финализации расчётов.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending: {
		model.OrderStatusConfirmed,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusConfirmed: {
		model.OrderStatusPreparing,
		model.OrderStatusDriverRequested,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusPreparing: {
		model.OrderStatusReady,
		model.OrderStatusDriverRequested,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusReady: {
		model.OrderStatusDriverRequested,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusDriverRequested: {
		model.OrderStatusDriverAssigned,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusDriverAssigned: {
		model.OrderStatusPickedUp,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusPickedUp: {
		model.OrderStatusOnTheWay,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusOnTheWay: {
		model.OrderStatusDelivered,
		model.OrderStatusCancelled,
		model.OrderStatusRefunded,
	},
	model.OrderStatusDelivered: {
		model.OrderStatusDelivered,
		model.OrderStatusCompleted,
	},
	model.OrderStatusCompleted: {},
	model.OrderStatusCancelled: {},
	model.OrderStatusRefunded:  {},
}

// CanTransition сообщает, допустим ли переход из from в to.
func CanTransition(from, to model.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate возвращает TransitionError, если переход из from в to недопустим.
func Validate(from, to model.OrderStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{Current: from, Requested: to}
	}
	return nil
}

// IsTerminal сообщает, является ли статус терминальным для доставки.
func IsTerminal(s model.OrderStatus) bool {
	return s == model.OrderStatusCompleted ||
		s == model.OrderStatusCancelled ||
		s == model.OrderStatusRefunded
}

// Known сообщает, входит ли статус в жизненный цикл.
func Known(s model.OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

// RequiresReason сообщает, требует ли переход явной причины.
// Отмена после начала приготовления всегда требует причину, поскольку
// к этому моменту ресторан уже понёс затраты.
func RequiresReason(from, to model.OrderStatus) bool {
	if to != model.OrderStatusCancelled {
		return false
	}
	return from != model.OrderStatusPending && from != model.OrderStatusConfirmed
}

// RequestableDriverFrom перечисляет статусы, из которых ресторан может вызвать курьера.
func RequestableDriverFrom(s model.OrderStatus) bool {
	return s == model.OrderStatusConfirmed ||
		s == model.OrderStatusPreparing ||
		s == model.OrderStatusReady
}

// States возвращает все статусы жизненного цикла.
func States() []model.OrderStatus {
	res := make([]model.OrderStatus, 0, len(transitions))
	for s := range transitions {
		res = append(res, s)
	}
	return res
}
