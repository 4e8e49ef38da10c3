// Package webhook delivers escrow notifications to an operator-configured HTTP
// endpoint, signed with HMAC-SHA256 so the receiver can authenticate them.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"timebank-escrow/internal/core/domain"
)

const (
	HeaderSignature = "X-TimeBank-Signature"
	HeaderTimestamp = "X-TimeBank-Timestamp"
	HeaderEventType = "X-TimeBank-Event"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Payload is the JSON body posted for each notification.
type Payload struct {
	EventType    domain.EventType     `json:"event_type"`
	Notification *domain.Notification `json:"notification"`
	Timestamp    int64                `json:"timestamp"`
}

// Channel implements ports.NotificationChannel over HTTP POST. It does not retry;
// the dispatcher owns the retry schedule.
type Channel struct {
	url    string
	secret string
	client HTTPClient
	nowFn  func() time.Time
}

// NewChannel creates a webhook channel posting to url.
func NewChannel(url, secret string, client HTTPClient) *Channel {
	return &Channel{
		url:    url,
		secret: secret,
		client: client,
		nowFn:  time.Now,
	}
}

// Name identifies the channel in dispatcher logs.
func (c *Channel) Name() string {
	return "webhook"
}

// Deliver posts the signed notification. Any non-2xx response is an error.
func (c *Channel) Deliver(ctx context.Context, n *domain.Notification) error {
	ts := c.nowFn().Unix()
	body, err := json.Marshal(Payload{EventType: n.Type, Notification: n, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(n.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(c.secret, ts, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Sign computes HMAC-SHA256 over "timestamp.body" and returns it hex-encoded.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func Verify(secret string, timestamp int64, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
