package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nostrportal/portal/internal/conversation"
	"github.com/nostrportal/portal/internal/envelope"
	"github.com/nostrportal/portal/internal/identity"
	"github.com/nostrportal/portal/internal/router"
)

func TestNextOccurrenceMonthlyClampsShortMonths(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC)

	feb := NextOccurrence(jan31, RecurrenceMonthly)
	if feb.Month() != time.February || feb.Day() != 28 {
		t.Fatalf("Jan 31 + 1 month = %v, want Feb 28 2026 (not a leap year)", feb)
	}
}

func TestNextOccurrenceMonthlyLeapYearFeb29(t *testing.T) {
	jan31 := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)

	feb := NextOccurrence(jan31, RecurrenceMonthly)
	if feb.Month() != time.February || feb.Day() != 29 {
		t.Fatalf("Jan 31 2024 + 1 month = %v, want Feb 29 2024 (leap year)", feb)
	}
}

func TestNextOccurrenceMonthlyDoesNotOverflowIntoMarch(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	feb := NextOccurrence(jan31, RecurrenceMonthly)
	mar := NextOccurrence(feb, RecurrenceMonthly)
	if mar.Month() != time.March || mar.Day() != 28 {
		t.Fatalf("Feb 28 + 1 month = %v, want Mar 28", mar)
	}
}

func TestNextOccurrenceQuarterlyAndYearly(t *testing.T) {
	start := time.Date(2026, time.May, 15, 0, 0, 0, 0, time.UTC)

	q := NextOccurrence(start, RecurrenceQuarterly)
	if q.Month() != time.August || q.Day() != 15 {
		t.Fatalf("quarterly = %v, want Aug 15", q)
	}

	y := NextOccurrence(start, RecurrenceYearly)
	if y.Year() != 2027 || y.Month() != time.May || y.Day() != 15 {
		t.Fatalf("yearly = %v, want May 15 2027", y)
	}
}

func TestNextOccurrenceMinutelyHourlyDaily(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if got := NextOccurrence(start, RecurrenceMinutely); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("minutely = %v", got)
	}
	if got := NextOccurrence(start, RecurrenceHourly); !got.Equal(start.Add(time.Hour)) {
		t.Fatalf("hourly = %v", got)
	}
	if got := NextOccurrence(start, RecurrenceDaily); !got.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("daily = %v", got)
	}
	if got := NextOccurrence(start, RecurrenceWeekly); !got.Equal(start.AddDate(0, 0, 7)) {
		t.Fatalf("weekly = %v", got)
	}
}

func TestRecurringPaymentConversationRejectsOverAuthorization(t *testing.T) {
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	c := NewRecurringPayment(peer.PubKey(), RecurringPaymentRequestBody{AmountMsats: 1000}, time.Minute)

	body, err := json.Marshal(RecurringPaymentResponseBody{Accepted: true, AuthorizedAmount: 1001})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	msg := conversation.Message{
		Kind: conversation.MsgEvent,
		Event: &router.Routed{
			From:     peer.PubKey(),
			Envelope: &envelope.Envelope{Subkind: envelope.SubkindRecurringResp, Body: body},
		},
	}

	effects := c.OnMessage(msg)
	if len(effects) != 1 || effects[0].Kind != conversation.EffectCompleteErr {
		t.Fatalf("expected a single CompleteErr effect, got %+v", effects)
	}
	if effects[0].Err != errAuthorizedAmountTooHigh {
		t.Fatalf("expected errAuthorizedAmountTooHigh, got %v", effects[0].Err)
	}
}

func TestRecurringPaymentConversationAcceptsValidAuthorization(t *testing.T) {
	peer, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	c := NewRecurringPayment(peer.PubKey(), RecurringPaymentRequestBody{AmountMsats: 1000}, time.Minute)

	body, err := json.Marshal(RecurringPaymentResponseBody{Accepted: true, AuthorizedAmount: 500})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	msg := conversation.Message{
		Kind: conversation.MsgEvent,
		Event: &router.Routed{
			From:     peer.PubKey(),
			Envelope: &envelope.Envelope{Subkind: envelope.SubkindRecurringResp, Body: body},
		},
	}

	effects := c.OnMessage(msg)
	if len(effects) != 1 || effects[0].Kind != conversation.EffectCompleteOk {
		t.Fatalf("expected a single CompleteOk effect, got %+v", effects)
	}
}
