// Package worker consumes ledger mutation events and drives the cascade
// recalculation engine.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/services"
)

// EventConsumer is the piece of the AMQP client the worker needs.
type EventConsumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEvent) error) error
}

// ProjectionWorker translates mutation events into engine calls. Events are
// processed one at a time per delivery; the engine's per-user lock keeps
// concurrent workers safe.
type ProjectionWorker struct {
	consumer EventConsumer
	engine   *services.Recalculator
	logger   *log.Logger
	timeout  time.Duration
}

func NewProjectionWorker(consumer EventConsumer, engine *services.Recalculator, logger *log.Logger, timeout time.Duration) *ProjectionWorker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ProjectionWorker{
		consumer: consumer,
		engine:   engine,
		logger:   logger.WithComponent(log.ComponentWorker),
		timeout:  timeout,
	}
}

// Start blocks consuming events until ctx is cancelled.
func (w *ProjectionWorker) Start(ctx context.Context) error {
	return w.consumer.ConsumeLedgerEvents(ctx, func(event *amqp.LedgerEvent) error {
		return w.Handle(ctx, event)
	})
}

// Handle dispatches one event. A returned error requeues the delivery, so
// events that can never succeed (malformed dates, unknown types) are logged
// and dropped instead.
func (w *ProjectionWorker) Handle(ctx context.Context, event *amqp.LedgerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	switch event.Type {
	case amqp.EventTransactionCreated:
		date, err := event.DateTime()
		if err != nil || date == nil {
			return w.drop(ctx, event, "created event without a valid date", err)
		}
		return w.engine.HandleTransactionCreated(ctx, event.UserID, *date, event.IsRecurring, event.IsActive)

	case amqp.EventTransactionUpdated:
		date, err := event.DateTime()
		if err != nil || date == nil {
			return w.drop(ctx, event, "updated event without a valid date", err)
		}
		previous, err := event.PreviousDateTime()
		if err != nil {
			return w.drop(ctx, event, "updated event with malformed previous date", err)
		}
		return w.engine.HandleTransactionUpdated(ctx, event.UserID, *date, previous)

	case amqp.EventTransactionDeleted:
		date, err := event.DateTime()
		if err != nil {
			return w.drop(ctx, event, "deleted event with malformed date", err)
		}
		return w.engine.HandleTransactionDeleted(ctx, event.UserID, date)

	case amqp.EventDayEdited:
		edit, err := dayEditFromEvent(event)
		if err != nil {
			return w.drop(ctx, event, "day-edit event with malformed values", err)
		}
		_, err = w.engine.ApplyDayEdit(ctx, event.UserID, core.YM(event.Year, event.Month), event.Day, edit)
		if errors.Is(err, core.ErrInvalidDay) || errors.Is(err, core.ErrInvalidMonth) || errors.Is(err, core.ErrInvalidDate) {
			return w.drop(ctx, event, "day-edit event with invalid day coordinates", err)
		}
		return err

	default:
		return w.drop(ctx, event, "unknown event type", nil)
	}
}

// drop logs an event that can never be processed and acknowledges it, so a
// poison message does not loop through the queue forever.
func (w *ProjectionWorker) drop(ctx context.Context, event *amqp.LedgerEvent, reason string, err error) error {
	w.logger.ErrorContext(ctx, "Dropping unprocessable ledger event",
		log.FieldEventID, event.EventID,
		log.FieldEventType, string(event.Type),
		log.FieldUserID, event.UserID,
		"reason", reason,
		log.FieldError, err)
	return nil
}

func dayEditFromEvent(event *amqp.LedgerEvent) (services.DayEdit, error) {
	var edit services.DayEdit
	for _, field := range []struct {
		raw  *string
		dest **decimal.Decimal
	}{
		{event.Income, &edit.Income},
		{event.Expenses, &edit.Expenses},
		{event.DailySpending, &edit.DailySpending},
	} {
		if field.raw == nil {
			continue
		}
		d, err := core.ParseAmount(*field.raw)
		if err != nil {
			return services.DayEdit{}, err
		}
		*field.dest = &d
	}
	return edit, nil
}
