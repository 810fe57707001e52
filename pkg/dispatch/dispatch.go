// Package dispatch delivers webhook events to notification channels:
// filtering, templated rendering, HMAC signing, retrying, and recording
// exactly one delivery row per (channel, event) pair.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lastwatch/uptime-core/pkg/config"
	"github.com/lastwatch/uptime-core/pkg/store"
)

// EventType enumerates the webhook events the dispatcher can emit.
type EventType string

const (
	EventMonitorDown        EventType = "monitor.down"
	EventMonitorUp          EventType = "monitor.up"
	EventIncidentCreated    EventType = "incident.created"
	EventIncidentUpdated    EventType = "incident.updated"
	EventIncidentResolved   EventType = "incident.resolved"
	EventMaintenanceStarted EventType = "maintenance.started"
	EventMaintenanceEnded   EventType = "maintenance.ended"
	EventTestPing           EventType = "test.ping"
)

// Event is one occurrence to fan out to every eligible channel.
type Event struct {
	Type        EventType
	MonitorID   int64
	MonitorName string
	Status      string
	Error       string
	IncidentID  string
	WindowID    string
	Timestamp   int64
}

// EventKey builds the idempotency token stored alongside each delivery.
func EventKey(e Event) string {
	switch e.Type {
	case EventMonitorDown, EventMonitorUp:
		return fmt.Sprintf("monitor:%d:%s:%d", e.MonitorID, e.Status, e.Timestamp)
	case EventIncidentCreated, EventIncidentUpdated, EventIncidentResolved:
		return fmt.Sprintf("incident:%s:%s:%d", e.IncidentID, e.Type, e.Timestamp)
	case EventMaintenanceStarted, EventMaintenanceEnded:
		return fmt.Sprintf("maintenance:%s:%s:%d", e.WindowID, e.Type, e.Timestamp)
	default:
		return fmt.Sprintf("%s:%d", e.Type, e.Timestamp)
	}
}

// Dispatcher fans events out to active channels.
type Dispatcher struct {
	channels    *store.ChannelRepository
	deliveries  *store.DeliveryRepository
	httpClient  *http.Client
	maxAttempts int
}

// New builds a Dispatcher backed by the store's channel and delivery
// repositories. cfg.MaxAttempts bounds the attempts per delivery (3 when
// unset). The request timeout is each channel's timeout_ms, or 10 s when
// that is unset; cfg.DefaultTimeoutMS is not read.
func New(channels *store.ChannelRepository, deliveries *store.DeliveryRepository, cfg config.WebhookConfig) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		channels:    channels,
		deliveries:  deliveries,
		httpClient:  &http.Client{},
		maxAttempts: maxAttempts,
	}
}

// Dispatch sends ev to every active channel whose enabled_events includes
// its type and whose creation predates the event, skipping channels that
// already recorded a delivery for this event key.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	channels, err := d.channels.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list active channels: %w", err)
	}

	eventKey := EventKey(ev)
	eventTime := time.Unix(ev.Timestamp, 0)

	for _, ch := range channels {
		if !channelWantsEvent(ch, ev.Type) {
			continue
		}
		if ch.CreatedAt.After(eventTime) {
			continue
		}

		delivered, err := d.deliveries.AlreadyDelivered(ch.ID, eventKey)
		if err != nil {
			continue
		}
		if delivered {
			continue
		}

		d.deliverToChannel(ctx, ch, ev, eventKey)
	}
	return nil
}

func channelWantsEvent(ch *store.NotificationChannel, t EventType) bool {
	if len(ch.Config.Events) == 0 {
		return true
	}
	for _, e := range ch.Config.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliverToChannel(ctx context.Context, ch *store.NotificationChannel, ev Event, eventKey string) {
	status, httpStatus, deliveryErr := d.attemptWithRetry(ctx, ch, ev)

	delivery := &store.NotificationDelivery{
		ChannelID: ch.ID,
		EventKey:  eventKey,
		Status:    status,
	}
	if httpStatus != 0 {
		delivery.HTTPStatus = &httpStatus
	}
	if deliveryErr != nil {
		msg := deliveryErr.Error()
		delivery.Error = &msg
	}
	// Best-effort: a failed insert here is swallowed by the caller's
	// fire-and-forget contract, same as a failed HTTP delivery.
	_ = d.deliveries.Record(delivery)
}

func (d *Dispatcher) attemptWithRetry(ctx context.Context, ch *store.NotificationChannel, ev Event) (status string, httpStatus int, lastErr error) {
	timeout := time.Duration(ch.Config.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 4
	policy.MaxElapsedTime = 0
	bounded := backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1))

	operation := func() error {
		code, err := d.send(ctx, ch, ev, timeout)
		httpStatus = code
		if err == nil {
			return nil
		}
		lastErr = err
		if code >= 400 && code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, bounded)
	if err != nil {
		return "failed", httpStatus, err
	}
	return "delivered", httpStatus, nil
}

func (d *Dispatcher) send(ctx context.Context, ch *store.NotificationChannel, ev Event, timeout time.Duration) (int, error) {
	body, contentType, err := renderPayload(ch.Config, ev)
	if err != nil {
		return 0, fmt.Errorf("failed to render payload: %w", err)
	}

	method := ch.Config.Method
	if method == "" {
		method = http.MethodPost
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, ch.Config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range ch.Config.Headers {
		req.Header.Set(k, v)
	}

	if ch.Config.SigningSecretRef != "" {
		secret, ok := config.ResolveSecret(ch.Config.SigningSecretRef)
		if !ok {
			return 0, fmt.Errorf("signature_config_missing: secret %s not set", ch.Config.SigningSecretRef)
		}
		req.Header.Set("X-Webhook-Signature", sign(secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("retryable_transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func renderPayload(cfg store.ChannelConfig, ev Event) ([]byte, string, error) {
	payloadType := cfg.PayloadType
	if payloadType == "" {
		payloadType = "json"
	}

	rendered, err := renderTemplate(cfg.MessageTemplate, ev)
	if err != nil {
		return nil, "", err
	}
	if cfg.PayloadTemplate != "" {
		rendered, err = renderTemplate(cfg.PayloadTemplate, ev)
		if err != nil {
			return nil, "", err
		}
	}
	if rendered == "" {
		rendered = defaultMessage(ev)
	}

	switch payloadType {
	case "param":
		values := url.Values{}
		values.Set("message", rendered)
		values.Set("event", string(ev.Type))
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case "x-www-form-urlencoded":
		values := url.Values{}
		values.Set("payload", rendered)
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	default:
		escaped := strings.ReplaceAll(rendered, `"`, `\"`)
		payload := fmt.Sprintf(`{"event":%q,"monitor_id":%d,"status":%q,"message":"%s"}`,
			ev.Type, ev.MonitorID, ev.Status, escaped)
		return []byte(payload), "application/json", nil
	}
}

func renderTemplate(tpl string, ev Event) (string, error) {
	if tpl == "" {
		return "", nil
	}
	t, err := template.New("webhook").Option("missingkey=zero").Funcs(templateFuncs(ev)).Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ev); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// templateFuncs exposes the documented placeholder surface — {{event}},
// {{monitor.name}}, {{state.status}}, {{timestamp}}, etc. — as
// zero-argument template functions returning maps, so a field absent for
// a given event type (e.g. monitor.name on an incident event) renders
// empty instead of making template.Execute error.
func templateFuncs(ev Event) template.FuncMap {
	return template.FuncMap{
		"event": func() string { return string(ev.Type) },
		"monitor": func() map[string]any {
			return map[string]any{"id": ev.MonitorID, "name": ev.MonitorName}
		},
		"state": func() map[string]any {
			return map[string]any{"status": ev.Status, "error": ev.Error}
		},
		"timestamp": func() int64 { return ev.Timestamp },
	}
}

func defaultMessage(ev Event) string {
	switch ev.Type {
	case EventMonitorDown:
		return fmt.Sprintf("%s is down: %s", ev.MonitorName, ev.Error)
	case EventMonitorUp:
		return fmt.Sprintf("%s is back up", ev.MonitorName)
	default:
		return string(ev.Type)
	}
}
