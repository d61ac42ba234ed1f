// Package notify delivers escalation notifications over email, SMS, webhooks and Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownChannel is returned for channel strings outside email, sms, webhook:<name> and slack:<channel>
	ErrUnknownChannel = errors.New("unknown notification channel")
	// ErrTransportNotConfigured is returned when no transport is registered for a channel kind
	ErrTransportNotConfigured = errors.New("notification transport not configured")
)

// Channel kinds
const (
	KindEmail   = "email"
	KindSMS     = "sms"
	KindWebhook = "webhook"
	KindSlack   = "slack"
)

// Payload is the content of one escalation notification
type Payload struct {
	AlertID    uint      `json:"alert_id"`
	AlertUUID  string    `json:"alert_uuid"`
	Severity   string    `json:"severity"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Message    string    `json:"message"`
	TierNumber int       `json:"tier_number"`
	DeepLink   string    `json:"deep_link"`
	Recipients []string  `json:"recipients,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notifier is the outbound contract used by the escalation engine
type Notifier interface {
	Notify(ctx context.Context, recipient, channel string, payload Payload) error
}

// Channel is a parsed channel string
type Channel struct {
	Kind string
	Name string
}

func (c Channel) String() string {
	if c.Name == "" {
		return c.Kind
	}
	return c.Kind + ":" + c.Name
}

// PerRecipient reports whether the channel addresses individual people
// (one send per recipient) rather than a shared destination.
func (c Channel) PerRecipient() bool {
	return c.Kind == KindEmail || c.Kind == KindSMS
}

// ParseChannel validates a channel string
func ParseChannel(s string) (Channel, error) {
	kind, name, hasName := strings.Cut(strings.TrimSpace(s), ":")
	switch kind {
	case KindEmail, KindSMS:
		if hasName {
			return Channel{}, fmt.Errorf("%w: %q takes no name", ErrUnknownChannel, s)
		}
		return Channel{Kind: kind}, nil
	case KindWebhook, KindSlack:
		if !hasName || name == "" {
			return Channel{}, fmt.Errorf("%w: %q needs a name", ErrUnknownChannel, s)
		}
		return Channel{Kind: kind, Name: name}, nil
	default:
		return Channel{}, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// Transport sends to one channel kind
type Transport interface {
	Send(ctx context.Context, recipient string, ch Channel, p Payload) error
}

// Router dispatches notifications to the transport for each channel kind,
// throttled by a shared rate limiter.
type Router struct {
	mu         sync.RWMutex
	transports map[string]Transport
	limiter    *rate.Limiter
}

// NewRouter creates a router. A non-positive rate disables throttling.
func NewRouter(ratePerSecond float64) *Router {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Router{
		transports: make(map[string]Transport),
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Register installs the transport for a channel kind
func (r *Router) Register(kind string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[kind] = t
}

// Kinds returns the registered channel kinds
func (r *Router) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.transports))
	for k := range r.transports {
		kinds = append(kinds, k)
	}
	return kinds
}

// Notify implements Notifier
func (r *Router) Notify(ctx context.Context, recipient, channel string, payload Payload) error {
	ch, err := ParseChannel(channel)
	if err != nil {
		return err
	}

	r.mu.RLock()
	t, ok := r.transports[ch.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransportNotConfigured, ch.Kind)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if err := t.Send(ctx, recipient, ch, payload); err != nil {
		return fmt.Errorf("%s notification to %q failed: %w", ch, recipient, err)
	}

	log.WithFields(log.Fields{
		"alert_id":  payload.AlertID,
		"tier":      payload.TierNumber,
		"channel":   ch.String(),
		"recipient": recipient,
	}).Debug("Notification sent")
	return nil
}
