// Package line handles the LINE Messaging API webhook.
//
// It verifies request signatures, decodes webhook events, hands text
// messages to a Responder and sends the answer through the reply API.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature means X-Line-Signature did not match the body.
	ErrInvalidSignature = errors.New("invalid line signature")

	// ErrInvalidBody means the webhook body is not valid JSON.
	ErrInvalidBody = errors.New("invalid webhook body")

	// ErrNoAccessToken is returned by Reply when no channel token is set.
	ErrNoAccessToken = errors.New("line channel access token not configured")
)

// SignatureHeader carries the request signature.
const SignatureHeader = "X-Line-Signature"

// Sign returns the base64 HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body.
func VerifySignature(secret string, body []byte, signature string) error {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || signature == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event types and message types handled here.
const (
	EventMessage = "message"
	MessageText  = "text"
)

// Source identifies the sender of an event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// EventMessageBody is the message payload of a message event.
type EventMessageBody struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// Event is one webhook event.
type Event struct {
	Type       string            `json:"type"`
	ReplyToken string            `json:"replyToken"`
	Timestamp  int64             `json:"timestamp"`
	Source     Source            `json:"source"`
	Message    *EventMessageBody `json:"message,omitempty"`
}

// IsText reports whether e is a text message event.
func (e Event) IsText() bool {
	return e.Type == EventMessage && e.Message != nil && e.Message.Type == MessageText
}

// WebhookRequest is the webhook body.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ParseRequest decodes a webhook body.
func ParseRequest(body []byte) (WebhookRequest, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return WebhookRequest{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return req, nil
}

// TextMessage is an outgoing text message.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextMessage builds a text message.
func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: MessageText, Text: text}
}
