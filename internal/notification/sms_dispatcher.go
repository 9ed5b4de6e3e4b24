package notification

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"market-booking/config"
	"market-booking/internal/metrics"
	"market-booking/pkg/logger"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const breakerName = "sms-gateway"

type smsRecipient struct {
	RecipientNo string `json:"recipientNo"`
}

type smsRequest struct {
	Title         string         `json:"title,omitempty"`
	Body          string         `json:"body"`
	SendNo        string         `json:"sendNo"`
	RecipientList []smsRecipient `json:"recipientList"`
}

type smsResponse struct {
	Header struct {
		IsSuccessful  bool   `json:"isSuccessful"`
		ResultCode    int    `json:"resultCode"`
		ResultMessage string `json:"resultMessage"`
	} `json:"header"`
}

// SMSDispatcher posts rendered templates to the SMS gateway. Calls go through
// a circuit breaker that opens after consecutive gateway failures.
type SMSDispatcher struct {
	url        string
	apiKey     string
	sender     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[struct{}]
	logger     *logger.Logger
}

func NewSMSDispatcher(cfg config.NotificationConfig, l *logger.Logger) *SMSDispatcher {
	metrics.NotificationBreakerState.WithLabelValues(breakerName).Set(0)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Logger.Warn("sms gateway circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.NotificationBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &SMSDispatcher{
		url:        cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cb:         cb,
		logger:     l,
	}
}

func (d *SMSDispatcher) Notify(ctx context.Context, n Notification) error {
	body, err := Render(n.TemplateKey, n.Variables)
	if err != nil {
		return err
	}
	to := NormalizePhone(n.To)
	if to == "" {
		return errors.Newf("notification %s has no recipient", n.TemplateKey)
	}

	tmpl, _ := Lookup(n.TemplateKey)
	payload, err := json.Marshal(smsRequest{
		Title:         tmpl.Title,
		Body:          body,
		SendNo:        d.sender,
		RecipientList: []smsRecipient{{RecipientNo: to}},
	})
	if err != nil {
		return errors.Wrap(err, "marshal sms request")
	}

	_, err = d.cb.Execute(func() (struct{}, error) {
		return struct{}{}, d.post(ctx, payload)
	})
	return err
}

func (d *SMSDispatcher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build sms request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Secret-Key", d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sms gateway request")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf("sms gateway returned %d", resp.StatusCode)
	}

	var out smsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return errors.Wrap(err, "decode sms gateway response")
	}
	if !out.Header.IsSuccessful {
		return errors.Newf("sms gateway rejected message: %d %s", out.Header.ResultCode, out.Header.ResultMessage)
	}
	return nil
}

func (d *SMSDispatcher) State() gobreaker.State {
	return d.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
