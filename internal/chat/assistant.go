package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/tools"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/llm"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/session"
)

// agentMaxIterations bounds tool calls plus the final answer per message.
const agentMaxIterations = 3

// Assistant answers PCR questions for LINE users. With an agent configured
// the model picks the tools to call; otherwise every tool runs on the
// user's text and the results are placed in the prompt.
type Assistant struct {
	gen      llm.Generator
	agent    *agents.Executor
	sessions session.Store
	tools    []tools.Tool
	redactor Redactor
	logger   *logging.Logger
	window   int
	now      func() time.Time
}

// NewAssistant creates an assistant with the given tools.
func NewAssistant(gen llm.Generator, sessions session.Store, toolset []tools.Tool, cfg config.ChatConfig, logger *logging.Logger, opts ...Option) *Assistant {
	if logger == nil {
		logger = logging.Nop()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	o := applyOptions(opts)
	a := &Assistant{
		gen:      gen,
		sessions: sessions,
		tools:    toolset,
		redactor: o.redactor,
		logger:   logger,
		window:   window,
		now:      time.Now,
	}
	if o.agentModel != nil {
		agent := agents.NewOpenAIFunctionsAgent(o.agentModel, toolset,
			agents.NewOpenAIOption().WithSystemMessage(AssistantPrompt))
		executor := agents.NewExecutor(agent, toolset, agents.WithMaxIterations(agentMaxIterations))
		a.agent = &executor
	}
	return a
}

// SessionKey returns the history key for a LINE user.
func SessionKey(userID string) string {
	return "line:" + userID
}

// Respond answers text for userID. The user turn is recorded before the
// model is called. On failure FallbackReply is recorded as the assistant
// turn and the error is returned.
func (a *Assistant) Respond(ctx context.Context, userID, text string) (string, error) {
	key := SessionKey(userID)
	ctx = logging.WithUserID(ctx, userID)
	text = a.redactor.Redact(ctx, text)

	history, err := a.sessions.Get(ctx, key)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return "", fmt.Errorf("loading session: %w", err)
	}
	if err := a.sessions.Append(ctx, key, session.Message{Role: session.RoleUser, Content: text, Time: a.now()}); err != nil {
		return "", fmt.Errorf("appending to session: %w", err)
	}

	var reply string
	if a.agent != nil {
		reply, err = a.runAgent(ctx, history, text)
	} else {
		reply, err = a.gen.Generate(ctx, a.buildPrompt(ctx, history, text))
	}
	if err != nil {
		a.logger.Error(ctx, "assistant generation failed", zap.Error(err))
		a.record(ctx, key, FallbackReply)
		return "", err
	}

	a.record(ctx, key, reply)
	return reply, nil
}

func (a *Assistant) record(ctx context.Context, key, reply string) {
	if err := a.sessions.Append(ctx, key, session.Message{Role: session.RoleAssistant, Content: reply, Time: a.now()}); err != nil {
		a.logger.Warn(ctx, "failed to store assistant turn", zap.Error(err))
	}
}

// runAgent lets the model call tools before answering. The persona is the
// agent's system message, so the input carries only history and the turn.
func (a *Assistant) runAgent(ctx context.Context, history []session.Message, text string) (string, error) {
	var sb strings.Builder
	if h := lastN(history, a.window); len(h) > 0 {
		sb.WriteString("對話紀錄:\n")
		writeHistory(&sb, h)
		sb.WriteString("\n\n")
	}
	sb.WriteString("[user] " + text)

	out, err := a.agent.Call(ctx, map[string]any{"input": sb.String()})
	if err != nil {
		return "", fmt.Errorf("agent: %w", err)
	}
	reply, _ := out["output"].(string)
	if strings.TrimSpace(reply) == "" {
		return "", llm.ErrEmptyResponse
	}
	return reply, nil
}

func (a *Assistant) buildPrompt(ctx context.Context, history []session.Message, text string) string {
	var sb strings.Builder
	sb.WriteString(AssistantPrompt)

	if h := lastN(history, a.window); len(h) > 0 {
		sb.WriteString("\n對話紀錄:\n")
		writeHistory(&sb, h)
		sb.WriteByte('\n')
	}

	if len(a.tools) > 0 {
		sb.WriteString("\n工具查詢結果:\n")
		for _, t := range a.tools {
			out, err := t.Call(ctx, text)
			if err != nil {
				a.logger.Warn(ctx, "tool returned error", zap.String("tool", t.Name()), zap.Error(err))
				out = "[]"
			}
			sb.WriteString("### " + t.Name() + "\n" + out + "\n")
		}
	}

	sb.WriteString("\n[user] " + text + "\n\nAssistant:")
	return sb.String()
}
