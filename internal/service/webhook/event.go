package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sendgate/internal/model"
)

type EventType string

const (
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventBounced   EventType = "bounced"
	EventOther     EventType = "other"
)

// Event is a vendor callback normalized for reconciliation.
type Event struct {
	Provider  model.ProviderType
	Type      EventType
	RawType   string
	MessageID string
	Tag       string
	Timestamp time.Time
}

var ErrMalformedPayload = errors.New("malformed webhook payload")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// SignatureHeader carries the MailerSend HMAC.
const SignatureHeader = "Signature"

// VerifySignature checks a hex HMAC-SHA256 of body under secret in constant
// time. An empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// Sign returns the signature VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type mailerSendPayload struct {
	CreatedAt json.RawMessage `json:"created_at"`
	Data      *struct {
		Type  *string `json:"type"`
		Email *struct {
			ID   *string  `json:"id"`
			Tags []string `json:"tags"`
		} `json:"email"`
	} `json:"data"`
}

// ParseMailerSend normalizes a MailerSend activity webhook.
func ParseMailerSend(body []byte, now time.Time) (Event, error) {
	var p mailerSendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, malformed("%v", err)
	}
	if p.Data == nil || p.Data.Type == nil {
		return Event{}, malformed("missing data.type")
	}
	if p.Data.Email == nil {
		return Event{}, malformed("missing data.email")
	}

	ev := Event{
		Provider:  model.ProviderMailerSend,
		RawType:   *p.Data.Type,
		MessageID: deref(p.Data.Email.ID),
	}
	if len(p.Data.Email.Tags) > 0 {
		ev.Tag = p.Data.Email.Tags[0]
	}
	switch ev.RawType {
	case "delivered":
		ev.Type = EventDelivered
	case "opened":
		ev.Type = EventOpened
	case "hard_bounced", "soft_bounced":
		ev.Type = EventBounced
	default:
		ev.Type = EventOther
	}
	if err := ev.requireMessageID("data.email.id"); err != nil {
		return Event{}, err
	}

	ts, err := parseTimestamp(p.CreatedAt, now)
	if err != nil {
		return Event{}, err
	}
	ev.Timestamp = ts
	return ev, nil
}

type smtp2goPayload struct {
	Event     *string         `json:"event"`
	MessageID *string         `json:"Message-Id"`
	Tag       string          `json:"X-Custom-Header"`
	SendTime  json.RawMessage `json:"sendtime"`
	OpenedAt  json.RawMessage `json:"opened-at"`
}

// ParseSMTP2Go normalizes an SMTP2GO event webhook.
func ParseSMTP2Go(body []byte, now time.Time) (Event, error) {
	var p smtp2goPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, malformed("%v", err)
	}
	if p.Event == nil {
		return Event{}, malformed("missing event")
	}

	ev := Event{
		Provider:  model.ProviderSMTP2GO,
		RawType:   *p.Event,
		MessageID: deref(p.MessageID),
		Tag:       p.Tag,
	}
	stamp := p.SendTime
	switch ev.RawType {
	case "delivered":
		ev.Type = EventDelivered
	case "open":
		ev.Type = EventOpened
		stamp = p.OpenedAt
	case "bounce":
		ev.Type = EventBounced
	default:
		ev.Type = EventOther
	}
	if err := ev.requireMessageID("Message-Id"); err != nil {
		return Event{}, err
	}

	ts, err := parseTimestamp(stamp, now)
	if err != nil {
		return Event{}, err
	}
	ev.Timestamp = ts
	return ev, nil
}

// requireMessageID rejects delivered and opened events without a vendor
// message id. Later opens match on it, so a delivery must record one.
func (ev Event) requireMessageID(field string) error {
	if ev.Type != EventDelivered && ev.Type != EventOpened {
		return nil
	}
	if strings.TrimSpace(ev.MessageID) == "" {
		return malformed("missing %s for %s event", field, ev.RawType)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// parseTimestamp accepts RFC 3339 and common SQL-style strings as well as
// unix seconds, as a number or a string. Absent values yield now.
func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now.UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, malformed("invalid timestamp %s", raw)
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, malformed("invalid timestamp %q", s)
}
