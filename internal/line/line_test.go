package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
)

const testSecret = "channel-secret"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	good := Sign(testSecret, body)

	tests := []struct {
		name    string
		body    []byte
		sig     string
		wantErr bool
	}{
		{"valid", body, good, false},
		{"tampered body", []byte(`{"events":[{}]}`), good, true},
		{"wrong secret", body, Sign("other", body), true},
		{"empty", body, "", true},
		{"not base64", body, "%%%", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(testSecret, tt.body, tt.sig)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	body := []byte(`{"destination":"U0","events":[
		{"type":"message","replyToken":"r1","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":" 手機 "}},
		{"type":"message","replyToken":"r2","source":{"type":"user","userId":"U1"},"message":{"id":"2","type":"sticker"}},
		{"type":"follow","replyToken":"r3","source":{"type":"user","userId":"U2"}}
	]}`)
	req, err := ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Events, 3)
	assert.True(t, req.Events[0].IsText())
	assert.Equal(t, "U1", req.Events[0].Source.UserID)
	assert.False(t, req.Events[1].IsText())
	assert.False(t, req.Events[2].IsText())

	_, err = ParseRequest([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestClient_Reply(t *testing.T) {
	var got replyRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(config.LineConfig{ChannelAccessToken: "tok", ReplyURL: srv.URL})
	require.NoError(t, c.Reply(context.Background(), "r1", NewTextMessage("hi")))
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "r1", got.ReplyToken)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, TextMessage{Type: "text", Text: "hi"}, got.Messages[0])
}

func TestClient_ReplyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid reply token"}`))
	}))
	defer srv.Close()

	c := NewClient(config.LineConfig{ChannelAccessToken: "tok", ReplyURL: srv.URL, Timeout: config.Duration(time.Second)})
	err := c.Reply(context.Background(), "r1", NewTextMessage("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid reply token")

	noToken := NewClient(config.LineConfig{ReplyURL: srv.URL})
	assert.ErrorIs(t, noToken.Reply(context.Background(), "r1"), ErrNoAccessToken)
}

type fakeResponder struct {
	reply string
	err   error
	calls []string
}

func (f *fakeResponder) Respond(_ context.Context, userID, text string) (string, error) {
	f.calls = append(f.calls, userID+":"+text)
	return f.reply, f.err
}

type sentReply struct {
	token string
	text  string
}

type fakeReplier struct {
	sent []sentReply
	err  error
}

func (f *fakeReplier) Reply(_ context.Context, token string, msgs ...TextMessage) error {
	for _, m := range msgs {
		f.sent = append(f.sent, sentReply{token: token, text: m.Text})
	}
	return f.err
}

const webhookBody = `{"events":[
	{"type":"message","replyToken":"r1","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":" 手機 "}},
	{"type":"follow","replyToken":"r2","source":{"type":"user","userId":"U2"}}
]}`

func TestBot_HandleWebhook(t *testing.T) {
	resp := &fakeResponder{reply: "答覆"}
	rep := &fakeReplier{}
	bot := NewBot(testSecret, "fallback", resp, rep, nil)

	body := []byte(webhookBody)
	require.NoError(t, bot.HandleWebhook(context.Background(), body, Sign(testSecret, body)))
	assert.Equal(t, []string{"U1:手機"}, resp.calls)
	assert.Equal(t, []sentReply{{token: "r1", text: "答覆"}}, rep.sent)
}

func TestBot_HandleWebhookRejects(t *testing.T) {
	bot := NewBot(testSecret, "fallback", &fakeResponder{}, &fakeReplier{}, nil)

	err := bot.HandleWebhook(context.Background(), []byte(webhookBody), "bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	body := []byte("{")
	err = bot.HandleWebhook(context.Background(), body, Sign(testSecret, body))
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestBot_NoSecretSkipsVerification(t *testing.T) {
	rep := &fakeReplier{}
	bot := NewBot("", "fallback", &fakeResponder{reply: "ok"}, rep, nil)
	require.NoError(t, bot.HandleWebhook(context.Background(), []byte(webhookBody), ""))
	assert.Len(t, rep.sent, 1)

	require.NoError(t, bot.HandleWebhook(context.Background(), []byte(`{"events":[]}`), ""))
}

func TestBot_ResponderFailureSendsFallback(t *testing.T) {
	rep := &fakeReplier{}
	logger := logging.NewTestLogger()
	bot := NewBot("", "稍後再試", &fakeResponder{err: errors.New("llm down")}, rep, logger.Logger)

	require.NoError(t, bot.HandleWebhook(context.Background(), []byte(webhookBody), ""))
	assert.Equal(t, []sentReply{{token: "r1", text: "稍後再試"}}, rep.sent)
	logger.AssertLogged(t, zapcore.ErrorLevel, "responder failed")
}

func TestBot_ReplyFailureDoesNotFailWebhook(t *testing.T) {
	logger := logging.NewTestLogger()
	bot := NewBot("", "fb", &fakeResponder{reply: "ok"}, &fakeReplier{err: errors.New("timeout")}, logger.Logger)

	assert.NoError(t, bot.HandleWebhook(context.Background(), []byte(webhookBody), ""))
	logger.AssertLogged(t, zapcore.ErrorLevel, "line reply failed")
	logger.AssertLogged(t, zapcore.InfoLevel, "ignoring webhook event")
}
