package line

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
)

// Responder produces the reply to a user's text.
type Responder interface {
	Respond(ctx context.Context, userID, text string) (string, error)
}

// Replier sends replies back to LINE.
type Replier interface {
	Reply(ctx context.Context, replyToken string, msgs ...TextMessage) error
}

// Bot dispatches webhook events.
type Bot struct {
	secret    string
	fallback  string
	responder Responder
	replier   Replier
	logger    *logging.Logger
}

// NewBot creates a Bot. An empty secret disables signature checks.
// fallback is sent when the responder fails.
func NewBot(secret, fallback string, responder Responder, replier Replier, logger *logging.Logger) *Bot {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bot{
		secret:    secret,
		fallback:  fallback,
		responder: responder,
		replier:   replier,
		logger:    logger,
	}
}

// HandleWebhook verifies and processes one webhook body. It returns
// ErrInvalidSignature or ErrInvalidBody for bad requests; reply failures
// are only logged.
func (b *Bot) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if b.secret != "" {
		if err := VerifySignature(b.secret, body, signature); err != nil {
			b.logger.Warn(ctx, "webhook signature mismatch")
			return err
		}
	}

	req, err := ParseRequest(body)
	if err != nil {
		b.logger.Warn(ctx, "webhook body rejected", zap.Error(err))
		return err
	}
	if len(req.Events) == 0 {
		b.logger.Debug(ctx, "webhook without events")
		return nil
	}

	for _, ev := range req.Events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.handleEvent(ctx, ev)
	}
	return nil
}

func (b *Bot) handleEvent(ctx context.Context, ev Event) {
	if !ev.IsText() {
		msgType := ""
		if ev.Message != nil {
			msgType = ev.Message.Type
		}
		b.logger.Info(ctx, "ignoring webhook event",
			zap.String("event_type", ev.Type),
			zap.String("message_type", msgType),
		)
		return
	}

	userID := ev.Source.UserID
	ctx = logging.WithUserID(ctx, userID)
	text := strings.TrimSpace(ev.Message.Text)
	b.logger.Info(ctx, "line message received", zap.Int("text_len", len(text)))

	reply, err := b.responder.Respond(ctx, userID, text)
	if err != nil {
		b.logger.Error(ctx, "responder failed", zap.Error(err))
		reply = b.fallback
	}

	if err := b.replier.Reply(ctx, ev.ReplyToken, NewTextMessage(reply)); err != nil {
		b.logger.Error(ctx, "line reply failed", zap.Error(err))
		return
	}
	b.logger.Debug(ctx, "line reply sent")
}
