// Package chat implements the web chat endpoint and the tool-using PCR
// assistant behind the LINE bot.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/llm"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/session"
)

// ErrNoMessages rejects a chat request without messages.
var ErrNoMessages = errors.New("messages must not be empty")

// Request is the body of POST /api/chat.
type Request struct {
	Messages  []session.Message `json:"messages"`
	SessionID string            `json:"session_id,omitempty"`
}

// Response is returned by Service.Chat.
type Response struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// Redactor scrubs credentials from user text.
type Redactor interface {
	Redact(ctx context.Context, text string) string
}

type noRedaction struct{}

func (noRedaction) Redact(_ context.Context, text string) string { return text }

type options struct {
	redactor   Redactor
	agentModel llms.Model
}

// Option configures a Service or Assistant.
type Option func(*options)

// WithRedactor scrubs user text before it is stored or sent to the model.
func WithRedactor(r Redactor) Option {
	return func(o *options) {
		if r != nil {
			o.redactor = r
		}
	}
}

// WithAgent lets a function-calling model decide which assistant tools to
// call. Without it the assistant runs every tool on each message. Service
// ignores this option.
func WithAgent(model llms.Model) Option {
	return func(o *options) {
		o.agentModel = model
	}
}

func applyOptions(opts []Option) options {
	o := options{redactor: noRedaction{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Service answers web chat turns with session history.
type Service struct {
	gen      llm.Generator
	sessions session.Store
	redactor Redactor
	logger   *logging.Logger
	window   int
	now      func() time.Time
}

// NewService creates the web chat service.
func NewService(gen llm.Generator, sessions session.Store, cfg config.ChatConfig, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	o := applyOptions(opts)
	return &Service{
		gen:      gen,
		sessions: sessions,
		redactor: o.redactor,
		logger:   logger,
		window:   window,
		now:      time.Now,
	}
}

// Chat appends the incoming messages to the session, asks the model for a
// reply and stores it. A missing session ID starts a new session.
func (s *Service) Chat(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, ErrNoMessages
	}

	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		sid = uuid.NewString()
	}
	ctx = logging.WithSessionID(ctx, sid)

	now := s.now()
	incoming := make([]session.Message, len(req.Messages))
	for i, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = session.RoleUser
		}
		content := m.Content
		if role == session.RoleUser {
			content = s.redactor.Redact(ctx, content)
		}
		incoming[i] = session.Message{Role: role, Content: content, Time: now}
	}
	if err := s.sessions.Append(ctx, sid, incoming...); err != nil {
		return Response{}, fmt.Errorf("appending to session: %w", err)
	}

	history, err := s.sessions.Get(ctx, sid)
	if err != nil {
		return Response{}, fmt.Errorf("loading session: %w", err)
	}

	prompt := BuildPrompt(SystemPrompt, history, s.window)
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error(ctx, "chat generation failed", zap.Error(err))
		return Response{}, err
	}

	if err := s.sessions.Append(ctx, sid, session.Message{
		Role:    session.RoleAssistant,
		Content: reply,
		Time:    s.now(),
	}); err != nil {
		return Response{}, fmt.Errorf("storing reply: %w", err)
	}

	s.logger.Debug(ctx, "chat turn completed",
		zap.Int("history", len(history)),
		zap.Int("reply_len", len(reply)),
	)
	return Response{Reply: reply, SessionID: sid}, nil
}
