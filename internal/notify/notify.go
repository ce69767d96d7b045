// Package notify abstracts outbound user notifications. Delivery is best
// effort everywhere in the engine: callers log a failed send and move on.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Event names a notification kind.
type Event string

const (
	EventInvestmentCreated   Event = "investment_created"
	EventInvestmentCompleted Event = "investment_completed"
	EventInvestmentCancelled Event = "investment_cancelled"
	EventDailyReturn         Event = "daily_return"
	EventReferralBonus       Event = "referral_bonus"
	EventBonusWithdrawn      Event = "bonus_withdrawn"
	EventDepositCompleted    Event = "deposit_completed"
	EventWithdrawalCompleted Event = "withdrawal_completed"
)

// Message is one notification to one user.
type Message struct {
	UserID   uint
	Event    Event
	Amount   float64
	Currency string
	Body     string
}

// Notifier delivers messages to users.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the service log. It stands in until a
// real delivery channel is wired.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info().
		Uint("user_id", msg.UserID).
		Str("event", string(msg.Event)).
		Float64("amount", msg.Amount).
		Str("currency", msg.Currency).
		Str("body", msg.Body).
		Msg("notification sent")
	return nil
}
