package stripe

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
)

// Webhook event types the backend cares about.
const EventPaymentIntentSucceeded = "payment_intent.succeeded"

// DefaultTolerance is the maximum accepted age of a signed webhook payload.
const DefaultTolerance = 5 * time.Minute

// Errors returned by webhook verification. All of them fail closed: no
// event is constructed, so no state mutation can follow.
var (
	ErrInvalidHeader    = errors.New("webhook: invalid Stripe-Signature header")
	ErrNoValidSignature = errors.New("webhook: no valid signature")
	ErrTooOld           = errors.New("webhook: timestamp outside tolerance")
)

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PaymentIntent is the slice of the intent object reconciliation needs.
type PaymentIntent struct {
	ID string `json:"id"`
}

// ConstructEvent verifies the Stripe-Signature header against the raw body
// and unmarshals the event. The scheme is the provider's documented one:
// the header carries `t=<unix>,v1=<hex>` pairs and v1 is HMAC-SHA256 of
// "<t>.<body>" under the endpoint secret. Comparison is constant time.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return constructEventAt(payload, sigHeader, secret, time.Now(), DefaultTolerance)
}

func constructEventAt(payload []byte, sigHeader, secret string, now time.Time, tolerance time.Duration) (Event, error) {
	timestamp, signatures, err := parseSigHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}

	if now.Sub(time.Unix(timestamp, 0)) > tolerance {
		return Event{}, ErrTooOld
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	valid := false
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return Event{}, ErrNoValidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("webhook: unmarshal event: %w", err)
	}
	return event, nil
}

// parseSigHeader splits "t=1492774577,v1=abc,v1=def" into the timestamp and
// the candidate v1 signatures. Unknown schemes (v0) are ignored.
func parseSigHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, ErrInvalidHeader
	}

	var timestamp int64 = -1
	var signatures []string
	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return 0, nil, ErrInvalidHeader
		}
		switch parts[0] {
		case "t":
			ts, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidHeader
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, ErrInvalidHeader
	}
	return timestamp, signatures, nil
}
