package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

// PickupNotice is posted to the notification webhook when a prescription is ready
type PickupNotice struct {
	EventID string                 `json:"event_id"`
	Ready   prescription.ReadyData `json:"ready"`
	SentAt  time.Time              `json:"sent_at"`
}

// Notifier posts signed pickup notices
type Notifier struct {
	c       *jsonClient
	secret  string
	breaker circuitbreaker.Executor
	timeout time.Duration
}

// NewNotifier creates a notifier. breaker may be nil.
func NewNotifier(cfg ClientConfig, secret string, breaker circuitbreaker.Executor, logger *zap.Logger) *Notifier {
	return &Notifier{
		c:       newJSONClient("notify", cfg, logger),
		secret:  secret,
		breaker: breaker,
		timeout: cfg.Timeout,
	}
}

// Sign computes the hex HMAC-SHA256 of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify delivers one notice
func (n *Notifier) Notify(ctx context.Context, notice *PickupNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"X-Rx-Event-ID":  notice.EventID,
		"X-Rx-Signature": "sha256=" + Sign(payload, n.secret),
	}
	_, err = circuitbreaker.Guard(ctx, n.breaker, n.timeout, func(ctx context.Context) (interface{}, error) {
		return nil, n.c.post(ctx, "/v1/pickup-ready", json.RawMessage(payload), nil, headers)
	})
	return err
}
