package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_WrapsPrompt(t *testing.T) {
	completer := &mockCompleter{}
	prompt := "retention; updates; from Acme; 2th email sent; subject: Sale"
	completer.On("Complete", mock.Anything, "[INST]"+prompt+"[/INST]").Return("opened", nil)

	svc := NewService(completer, quietLogger())
	out, err := svc.Handle(context.Background(), Job{ID: "job-1", Input: Input{Prompt: prompt}})

	require.NoError(t, err)
	assert.Equal(t, "opened", out)
	completer.AssertExpectations(t)
}

func TestService_EmptyPrompt(t *testing.T) {
	completer := &mockCompleter{}
	svc := NewService(completer, quietLogger())

	for _, prompt := range []string{"", "  \n"} {
		_, err := svc.Handle(context.Background(), Job{Input: Input{Prompt: prompt}})
		assert.ErrorIs(t, err, ErrNoPrompt)
	}
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestService_CompleterError(t *testing.T) {
	completer := &mockCompleter{}
	boom := errors.New("endpoint down")
	completer.On("Complete", mock.Anything, mock.Anything).Return("", boom)

	_, err := NewService(completer, nil).Handle(context.Background(), Job{ID: "j", Input: Input{Prompt: "p"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `complete job "j"`)
}

func TestJob_DecodesServerlessPayload(t *testing.T) {
	var job Job
	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc","input":{"prompt":"hello"}}`), &job))
	assert.Equal(t, Job{ID: "abc", Input: Input{Prompt: "hello"}}, job)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "mistral-7b-it-emails",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "activation"}}]
		}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1/", "sk-test", "mistral-7b-it-emails", 64)
	out, err := client.Complete(context.Background(), Wrap("hi"))

	require.NoError(t, err)
	assert.Equal(t, "activation", out)
	assert.Equal(t, "mistral-7b-it-emails", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "[INST]hi[/INST]", got.Messages[0].Content)
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[]}`)
	}))
	defer server.Close()

	_, err := NewOpenAIClient(server.URL+"/v1/", "k", "m", 0).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion choices")
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewOpenAIClient(server.URL+"/v1/", "k", "m", 0, option.WithMaxRetries(0)).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}
