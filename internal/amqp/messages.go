package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies which ledger mutation an event carries.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventDayEdited          EventType = "ledger.day_edited"
)

const eventDateLayout = "2006-01-02"

// LedgerEvent is the message published by the transaction and spreadsheet
// modules whenever something that affects projected balances changes. It is
// deliberately small: the worker re-reads state from the database, so a
// replayed or duplicated event is harmless.
type LedgerEvent struct {
	EventID   string    `json:"eventId"`
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`

	// Transaction events. Date is YYYY-MM-DD; empty when the publisher no
	// longer knows the date (a delete raced with another mutation).
	Date         string `json:"date,omitempty"`
	PreviousDate string `json:"previousDate,omitempty"`
	IsRecurring  bool   `json:"isRecurring,omitempty"`
	IsActive     bool   `json:"isActive,omitempty"`

	// Day-edit events. The value fields are decimal strings; nil means the
	// field was not touched.
	Year          int     `json:"year,omitempty"`
	Month         int     `json:"month,omitempty"`
	Day           int     `json:"day,omitempty"`
	Income        *string `json:"income,omitempty"`
	Expenses      *string `json:"expenses,omitempty"`
	DailySpending *string `json:"dailySpending,omitempty"`
}

func newEvent(eventType EventType, userID string) *LedgerEvent {
	return &LedgerEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransactionCreatedEvent builds the event published after a transaction
// is inserted.
func NewTransactionCreatedEvent(userID string, date time.Time, isRecurring, isActive bool) *LedgerEvent {
	ev := newEvent(EventTransactionCreated, userID)
	ev.Date = date.UTC().Format(eventDateLayout)
	ev.IsRecurring = isRecurring
	ev.IsActive = isActive
	return ev
}

// NewTransactionUpdatedEvent builds the event published after a transaction
// changes. previousDate is nil when the date did not move.
func NewTransactionUpdatedEvent(userID string, date time.Time, previousDate *time.Time) *LedgerEvent {
	ev := newEvent(EventTransactionUpdated, userID)
	ev.Date = date.UTC().Format(eventDateLayout)
	if previousDate != nil {
		ev.PreviousDate = previousDate.UTC().Format(eventDateLayout)
	}
	return ev
}

// NewTransactionDeletedEvent builds the event published after a transaction
// is removed. date is nil when the deleted row's date is unknown.
func NewTransactionDeletedEvent(userID string, date *time.Time) *LedgerEvent {
	ev := newEvent(EventTransactionDeleted, userID)
	if date != nil {
		ev.Date = date.UTC().Format(eventDateLayout)
	}
	return ev
}

// NewDayEditedEvent builds the event published when a spreadsheet cell is
// edited directly. Value fields are decimal strings; nil leaves the field
// untouched.
func NewDayEditedEvent(userID string, year, month, day int, income, expenses, dailySpending *string) *LedgerEvent {
	ev := newEvent(EventDayEdited, userID)
	ev.Year = year
	ev.Month = month
	ev.Day = day
	ev.Income = income
	ev.Expenses = expenses
	ev.DailySpending = dailySpending
	return ev
}

// DateTime parses the event's date. Returns nil when no date was set.
func (e *LedgerEvent) DateTime() (*time.Time, error) {
	return parseEventDate(e.Date)
}

// PreviousDateTime parses the event's previous date. Returns nil when the
// date did not move.
func (e *LedgerEvent) PreviousDateTime() (*time.Time, error) {
	return parseEventDate(e.PreviousDate)
}

func parseEventDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(eventDateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse event date %q: %w", s, err)
	}
	return &t, nil
}

// ToJSON converts the event to JSON bytes.
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON parses an event from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
