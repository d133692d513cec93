package amqp

import (
	"testing"
	"time"
)

func TestNewTransactionCreatedEvent(t *testing.T) {
	date := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	ev := NewTransactionCreatedEvent("user-1", date, true, true)

	if ev.EventID == "" {
		t.Error("NewTransactionCreatedEvent() EventID should not be empty")
	}
	if ev.Type != EventTransactionCreated {
		t.Errorf("NewTransactionCreatedEvent() Type = %v, want %v", ev.Type, EventTransactionCreated)
	}
	if ev.Date != "2025-03-15" {
		t.Errorf("NewTransactionCreatedEvent() Date = %q, want 2025-03-15", ev.Date)
	}
	if !ev.IsRecurring || !ev.IsActive {
		t.Error("NewTransactionCreatedEvent() should preserve recurring flags")
	}
	if time.Since(ev.Timestamp) > time.Second {
		t.Error("NewTransactionCreatedEvent() Timestamp should be recent")
	}
}

func TestLedgerEvent_JSON(t *testing.T) {
	prev := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	ev := NewTransactionUpdatedEvent("user-1", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), &prev)

	jsonBytes, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := LedgerEventFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}

	if parsed.EventID != ev.EventID {
		t.Errorf("Parsed EventID = %v, want %v", parsed.EventID, ev.EventID)
	}
	if parsed.Type != EventTransactionUpdated {
		t.Errorf("Parsed Type = %v, want %v", parsed.Type, EventTransactionUpdated)
	}

	date, err := parsed.DateTime()
	if err != nil || date == nil || !date.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Parsed DateTime() = %v, %v", date, err)
	}
	prevDate, err := parsed.PreviousDateTime()
	if err != nil || prevDate == nil || !prevDate.Equal(prev) {
		t.Errorf("Parsed PreviousDateTime() = %v, %v", prevDate, err)
	}
}

func TestDeletedEventWithoutDate(t *testing.T) {
	ev := NewTransactionDeletedEvent("user-1", nil)

	jsonBytes, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := LedgerEventFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}

	date, err := parsed.DateTime()
	if err != nil {
		t.Fatalf("DateTime() error = %v", err)
	}
	if date != nil {
		t.Errorf("DateTime() = %v, want nil for dateless delete", date)
	}
}

func TestDayEditedEvent(t *testing.T) {
	income := "150.00"
	spending := "42.50"
	ev := NewDayEditedEvent("user-1", 2025, 3, 14, &income, nil, &spending)

	jsonBytes, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := LedgerEventFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}

	if parsed.Year != 2025 || parsed.Month != 3 || parsed.Day != 14 {
		t.Errorf("Parsed day coordinates = %d-%d-%d, want 2025-3-14", parsed.Year, parsed.Month, parsed.Day)
	}
	if parsed.Income == nil || *parsed.Income != income {
		t.Errorf("Parsed Income = %v, want %q", parsed.Income, income)
	}
	if parsed.Expenses != nil {
		t.Errorf("Parsed Expenses = %v, want nil for untouched field", parsed.Expenses)
	}
	if parsed.DailySpending == nil || *parsed.DailySpending != spending {
		t.Errorf("Parsed DailySpending = %v, want %q", parsed.DailySpending, spending)
	}
}

func TestLedgerEventInvalidJSON(t *testing.T) {
	if _, err := LedgerEventFromJSON([]byte(`{"year": "not_a_number"}`)); err == nil {
		t.Error("LedgerEventFromJSON() should fail with invalid JSON")
	}
}

func TestParseEventDateInvalid(t *testing.T) {
	ev := &LedgerEvent{Date: "15/03/2025"}
	if _, err := ev.DateTime(); err == nil {
		t.Error("DateTime() should fail on a malformed date")
	}
}
