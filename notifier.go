package authcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/internal/logging"
)

// DeliveryPurpose tells the delivery collaborator which template to use.
type DeliveryPurpose string

const (
	DeliveryPasswordReset     DeliveryPurpose = "password_reset"
	DeliveryPasswordChanged   DeliveryPurpose = "password_changed"
	DeliveryEmailVerification DeliveryPurpose = "email_verification"
	DeliveryAccountStatus     DeliveryPurpose = "account_status"
)

// Delivery is one outbound notification. Token is the plaintext single-use
// token for reset and verification mail and empty otherwise.
type Delivery struct {
	Destination string
	Purpose     DeliveryPurpose
	Token       string
	Message     string
}

// Notifier sends deliveries (email, chat). A returned error makes the
// engine revoke any token carried by the delivery.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// NoopNotifier accepts and discards every delivery.
type NoopNotifier struct{}

func (NoopNotifier) Deliver(context.Context, Delivery) error { return nil }

// LogNotifier logs deliveries for local development. Destinations are masked
// and tokens are never written.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) Deliver(_ context.Context, d Delivery) error {
	n.log.Info("delivery",
		logging.Email(d.Destination),
		zap.String("purpose", string(d.Purpose)),
		zap.Bool("has_token", d.Token != ""),
		zap.String("message", d.Message),
	)
	return nil
}
