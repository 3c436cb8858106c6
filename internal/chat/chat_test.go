package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
	"github.com/fyrsmithlabs/pcrsearch/internal/session"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newStore(t *testing.T) *session.MemoryStore {
	t.Helper()
	s := session.NewMemoryStore(config.SessionConfig{}, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuildPrompt(t *testing.T) {
	history := []session.Message{
		{Role: "user", Content: "a"},
		{Role: "", Content: "b"},
		{Role: "assistant", Content: "c"},
	}
	got := BuildPrompt("SYS", history, 2)
	assert.Equal(t, "SYS\n\n[user] b\n[assistant] c\n\nAssistant:", got)

	got = BuildPrompt("SYS", history, 0)
	assert.Equal(t, "SYS\n\n[user] a\n[user] b\n[assistant] c\n\nAssistant:", got)
}

func TestService_Chat(t *testing.T) {
	store := newStore(t)
	gen := &fakeGenerator{reply: "您好"}
	svc := NewService(gen, store, config.ChatConfig{}, nil)
	ctx := context.Background()

	resp, err := svc.Chat(ctx, Request{Messages: []session.Message{{Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, "您好", resp.Reply)
	assert.NotEmpty(t, resp.SessionID)

	require.Len(t, gen.prompts, 1)
	assert.True(t, strings.HasPrefix(gen.prompts[0], SystemPrompt+"\n\n"))
	assert.True(t, strings.HasSuffix(gen.prompts[0], "[user] hello\n\nAssistant:"))

	msgs, err := store.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "您好", msgs[1].Content)

	// Second turn on the same session sees the first.
	_, err = svc.Chat(ctx, Request{SessionID: resp.SessionID, Messages: []session.Message{{Role: "user", Content: "again"}}})
	require.NoError(t, err)
	assert.Contains(t, gen.prompts[1], "[user] hello\n[assistant] 您好\n[user] again")
}

func TestService_Chat_HistoryWindow(t *testing.T) {
	store := newStore(t)
	gen := &fakeGenerator{reply: "ok"}
	svc := NewService(gen, store, config.ChatConfig{HistoryWindow: 40}, nil)

	msgs := make([]session.Message, 50)
	for i := range msgs {
		msgs[i] = session.Message{Role: "user", Content: fmt.Sprintf("m%02d", i)}
	}
	_, err := svc.Chat(context.Background(), Request{SessionID: "s1", Messages: msgs})
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.NotContains(t, prompt, "[user] m09\n")
	assert.Contains(t, prompt, "[user] m10\n")
	assert.Contains(t, prompt, "[user] m49\n\nAssistant:")
}

func TestService_Chat_Errors(t *testing.T) {
	store := newStore(t)

	_, err := NewService(&fakeGenerator{}, store, config.ChatConfig{}, nil).Chat(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoMessages)

	boom := errors.New("quota exceeded")
	_, err = NewService(&fakeGenerator{err: boom}, store, config.ChatConfig{}, nil).
		Chat(context.Background(), Request{SessionID: "s", Messages: []session.Message{{Content: "x"}}})
	assert.ErrorIs(t, err, boom)

	msgs, err := store.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "failed turn stores no assistant reply")
}

type fakeLister struct {
	recs []pcr.Record
	err  error
	got  records.ListOptions
}

func (f *fakeLister) List(_ context.Context, opts records.ListOptions) ([]pcr.Record, error) {
	f.got = opts
	return f.recs, f.err
}

type fakeSearcher struct {
	recs  []pcr.Record
	err   error
	got   search.Options
	query string
}

func (f *fakeSearcher) SearchRecords(_ context.Context, q string, opts search.Options) ([]pcr.Record, error) {
	f.got = opts
	f.query = q
	return f.recs, f.err
}

func TestDatabaseSearchTool(t *testing.T) {
	lister := &fakeLister{recs: []pcr.Record{{RegNo: "R1", DocumentName: "手機"}}}
	tool := NewDatabaseSearchTool(lister, nil)

	out, err := tool.Call(context.Background(), "  手機 ")
	require.NoError(t, err)
	assert.Equal(t, records.ListOptions{Limit: 3, Search: "手機"}, lister.got)

	var got []pcr.Record
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "R1", got[0].RegNo)
	assert.Equal(t, "pcr_database_search", tool.Name())

	lister.err = errors.New("db locked")
	out, err = tool.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestVectorSearchTool(t *testing.T) {
	long := strings.Repeat("字", maxExcerptRunes+10)
	searcher := &fakeSearcher{recs: []pcr.Record{{RegNo: "R2", PageContent: long}}}
	tool := NewVectorSearchTool(searcher, nil)

	out, err := tool.Call(context.Background(), "塑膠")
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.got.TopN)

	var got []pcr.Record
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, maxExcerptRunes+3, len([]rune(got[0].PageContent)))
	assert.Equal(t, "pcr_vector_search", tool.Name())

	searcher.err = search.ErrIndexUnavailable
	out, err = tool.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	searcher.err, searcher.recs = nil, nil
	out, err = tool.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestAssistant_Respond(t *testing.T) {
	store := newStore(t)
	gen := &fakeGenerator{reply: "找到 1 筆"}
	lister := &fakeLister{recs: []pcr.Record{{RegNo: "R1", DocumentName: "手機"}}}
	searcher := &fakeSearcher{}
	a := NewAssistant(gen, store, []tools.Tool{
		NewDatabaseSearchTool(lister, nil),
		NewVectorSearchTool(searcher, nil),
	}, config.ChatConfig{}, nil)

	ctx := context.Background()
	reply, err := a.Respond(ctx, "U123", "手機")
	require.NoError(t, err)
	assert.Equal(t, "找到 1 筆", reply)

	prompt := gen.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, AssistantPrompt))
	assert.Contains(t, prompt, "### pcr_database_search\n[{\"pcr_reg_no\":\"R1\"")
	assert.Contains(t, prompt, "### pcr_vector_search\n[]")
	assert.True(t, strings.HasSuffix(prompt, "[user] 手機\n\nAssistant:"))
	assert.NotContains(t, prompt, "對話紀錄", "first turn has no history")

	msgs, err := store.Get(ctx, SessionKey("U123"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "手機", msgs[0].Content)
	assert.Equal(t, "找到 1 筆", msgs[1].Content)

	_, err = a.Respond(ctx, "U123", "第二筆")
	require.NoError(t, err)
	assert.Contains(t, gen.prompts[1], "對話紀錄:\n[user] 手機\n[assistant] 找到 1 筆\n")
}

func TestAssistant_RespondFailureRecordsFallback(t *testing.T) {
	store := newStore(t)
	boom := errors.New("upstream down")
	a := NewAssistant(&fakeGenerator{err: boom}, store, nil, config.ChatConfig{}, nil)

	reply, err := a.Respond(context.Background(), "U1", "hi")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reply)

	msgs, err := store.Get(context.Background(), "line:U1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, FallbackReply, msgs[1].Content)
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
}

// scriptedModel replays one response per GenerateContent call.
type scriptedModel struct {
	replies []*llms.ContentResponse
	calls   [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, msgs)
	if len(m.calls) > len(m.replies) {
		return nil, errors.New("unexpected model call")
	}
	return m.replies[len(m.calls)-1], nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textReply(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func toolCallReply(name, arg string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		FuncCall: &schema.FunctionCall{Name: name, Arguments: `{"__arg1":"` + arg + `"}`},
	}}}
}

func messageText(mc llms.MessageContent) string {
	var sb strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func TestAssistant_AgentSelectsTools(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		replies     []*llms.ContentResponse
		want        string
		wantDB      string
		wantVector  string
		wantCallsTo int
	}{
		{
			name:        "greeting calls no tool",
			text:        "早安，今天天氣如何？",
			replies:     []*llms.ContentResponse{textReply("早安！")},
			want:        "早安！",
			wantCallsTo: 1,
		},
		{
			name: "product question calls database search",
			text: "手機的 PCR 是哪一份？",
			replies: []*llms.ContentResponse{
				toolCallReply("pcr_database_search", "手機"),
				textReply("找到 R1"),
			},
			want:        "找到 R1",
			wantDB:      "手機",
			wantCallsTo: 2,
		},
		{
			name: "content question calls vector search",
			text: "塑膠容器的功能單位怎麼定義？",
			replies: []*llms.ContentResponse{
				toolCallReply("pcr_vector_search", "塑膠容器 功能單位"),
				textReply("依 R2 定義"),
			},
			want:        "依 R2 定義",
			wantVector:  "塑膠容器 功能單位",
			wantCallsTo: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			gen := &fakeGenerator{reply: "unused"}
			lister := &fakeLister{recs: []pcr.Record{{RegNo: "R1"}}}
			searcher := &fakeSearcher{recs: []pcr.Record{{RegNo: "R2"}}}
			model := &scriptedModel{replies: tt.replies}
			a := NewAssistant(gen, store, []tools.Tool{
				NewDatabaseSearchTool(lister, nil),
				NewVectorSearchTool(searcher, nil),
			}, config.ChatConfig{}, nil, WithAgent(model))

			reply, err := a.Respond(context.Background(), "U7", tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)
			assert.Empty(t, gen.prompts, "agent path does not use the generator")
			assert.Len(t, model.calls, tt.wantCallsTo)
			assert.Equal(t, tt.wantDB, lister.got.Search)
			assert.Equal(t, tt.wantVector, searcher.query)

			first := model.calls[0]
			require.GreaterOrEqual(t, len(first), 2)
			assert.Equal(t, AssistantPrompt, messageText(first[0]))
			assert.Equal(t, "[user] "+tt.text, messageText(first[1]))
		})
	}
}

func TestAssistant_AgentSeesHistory(t *testing.T) {
	store := newStore(t)
	model := &scriptedModel{replies: []*llms.ContentResponse{textReply("你好"), textReply("再見")}}
	a := NewAssistant(&fakeGenerator{}, store, nil, config.ChatConfig{}, nil, WithAgent(model))
	ctx := context.Background()

	_, err := a.Respond(ctx, "U8", "嗨")
	require.NoError(t, err)
	reply, err := a.Respond(ctx, "U8", "掰掰")
	require.NoError(t, err)
	assert.Equal(t, "再見", reply)

	require.Len(t, model.calls, 2)
	assert.Equal(t, "對話紀錄:\n[user] 嗨\n[assistant] 你好\n\n[user] 掰掰", messageText(model.calls[1][1]))
}

func TestAssistant_AgentFailureRecordsFallback(t *testing.T) {
	store := newStore(t)
	model := &scriptedModel{}
	a := NewAssistant(&fakeGenerator{}, store, nil, config.ChatConfig{}, nil, WithAgent(model))

	_, err := a.Respond(context.Background(), "U9", "hi")
	require.Error(t, err)

	msgs, err := store.Get(context.Background(), SessionKey("U9"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, FallbackReply, msgs[1].Content)
}

type fakeRedactor struct{ secret string }

func (f fakeRedactor) Redact(_ context.Context, text string) string {
	return strings.ReplaceAll(text, f.secret, "[REDACTED:test]")
}

func TestRedaction(t *testing.T) {
	const secret = "sk-live-123"
	ctx := context.Background()

	t.Run("service", func(t *testing.T) {
		store := newStore(t)
		gen := &fakeGenerator{reply: "ok"}
		svc := NewService(gen, store, config.ChatConfig{}, nil, WithRedactor(fakeRedactor{secret: secret}))

		resp, err := svc.Chat(ctx, Request{Messages: []session.Message{
			{Role: session.RoleUser, Content: "key " + secret},
			{Role: session.RoleAssistant, Content: "echo " + secret},
		}})
		require.NoError(t, err)

		assert.NotContains(t, gen.prompts[0], "key "+secret)
		assert.Contains(t, gen.prompts[0], "key [REDACTED:test]")
		msgs, err := store.Get(ctx, resp.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "key [REDACTED:test]", msgs[0].Content)
		assert.Equal(t, "echo "+secret, msgs[1].Content, "only user turns are scrubbed")
	})

	t.Run("assistant", func(t *testing.T) {
		store := newStore(t)
		gen := &fakeGenerator{reply: "ok"}
		searcher := &fakeSearcher{}
		a := NewAssistant(gen, store, []tools.Tool{NewVectorSearchTool(searcher, nil)},
			config.ChatConfig{}, nil, WithRedactor(fakeRedactor{secret: secret}))

		_, err := a.Respond(ctx, "U9", "找 "+secret)
		require.NoError(t, err)
		assert.NotContains(t, gen.prompts[0], secret)
		assert.Equal(t, "找 [REDACTED:test]", searcher.query)
		msgs, err := store.Get(ctx, SessionKey("U9"))
		require.NoError(t, err)
		assert.Equal(t, "找 [REDACTED:test]", msgs[0].Content)
	})

	t.Run("nil redactor keeps text", func(t *testing.T) {
		store := newStore(t)
		gen := &fakeGenerator{reply: "ok"}
		_, err := NewService(gen, store, config.ChatConfig{}, nil, WithRedactor(nil)).
			Chat(ctx, Request{Messages: []session.Message{{Content: secret}}})
		require.NoError(t, err)
		assert.Contains(t, gen.prompts[0], secret)
	})
}
