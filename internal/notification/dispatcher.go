package notification

import (
	"context"
	"strings"
	"unicode"

	"market-booking/pkg/logger"

	"go.uber.org/zap"
)

// Notification is one outbound message to a phone number.
type Notification struct {
	To          string
	TemplateKey string
	Variables   map[string]string
}

//go:generate mockgen -source=dispatcher.go -destination=mocks/dispatcher_mock.go -package=mocks

// Dispatcher sends notifications. Implementations must be safe for concurrent use.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// LogDispatcher renders and logs notifications instead of sending them.
type LogDispatcher struct {
	logger *logger.Logger
}

func NewLogDispatcher(l *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logger: l}
}

func (d *LogDispatcher) Notify(ctx context.Context, n Notification) error {
	body, err := Render(n.TemplateKey, n.Variables)
	if err != nil {
		return err
	}
	d.logger.WithContext(ctx).Info("notification (test mode)",
		zap.String("to", maskPhone(n.To)),
		zap.String("template", n.TemplateKey),
		zap.String("body", body))
	return nil
}

// NormalizePhone strips separators, keeping digits and a leading plus.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func maskPhone(phone string) string {
	p := NormalizePhone(phone)
	if len(p) <= 4 {
		return p
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
