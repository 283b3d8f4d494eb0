package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateChatCompletionStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"hi \"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"there\"}}],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":2,\"total_tokens\":3}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", time.Second)
	var text string
	usage, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{
		Model:    "gpt",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
	}, func(chunk *StreamChunk) error {
		text += chunk.DeltaText()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
	require.NotNil(t, usage)
	assert.Equal(t, 3, usage.TotalTokens)
}

func TestClientCreateChatCompletionStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{Model: "gpt"}, func(*StreamChunk) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request_error")
}

func TestClientCallbackErrorStopsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%d\"}}]}\n\n", i)
		}
	}))
	defer server.Close()

	stop := fmt.Errorf("stop")
	calls := 0
	client := NewClient(server.URL, "", time.Second)
	_, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{}, func(*StreamChunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestClientListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt","object":"model","owned_by":"me"}]}`)
	}))
	defer server.Close()

	models, err := NewClient(server.URL, "", time.Second).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt", models[0].ID)
}

func TestMockClientStream(t *testing.T) {
	client := NewMockClient(0)
	var text string
	var chunks int
	usage, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{
		Model: "mock",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "You are Sage.\nBe wise."},
			{Role: RoleUser, Content: "héllo wörld"},
		},
	}, func(chunk *StreamChunk) error {
		chunks++
		text += chunk.DeltaText()
		return nil
	})
	require.NoError(t, err)
	assert.NotNil(t, usage)
	assert.Greater(t, chunks, 1)
	assert.Equal(t, `[MOCK] (You are Sage.) Received your message: "héllo wörld".`, text)
}

func TestMockClientHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockClient(time.Millisecond).CreateChatCompletionStream(ctx, &ChatCompletionRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "x"}},
	}, func(*StreamChunk) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLLMClient(t *testing.T) {
	t.Setenv(EnvGogoMode, "")

	c, err := NewLLMClient(Options{Backend: BackendMock}, zapNop())
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	c, err = NewLLMClient(Options{Backend: "", BaseURL: "http://x"}, zapNop())
	require.NoError(t, err)
	assert.IsType(t, &Client{}, c)

	_, err = NewLLMClient(Options{Backend: "carrier-pigeon"}, zapNop())
	assert.Error(t, err)

	t.Setenv(EnvGogoMode, ModeMock)
	c, err = NewLLMClient(Options{Backend: BackendOpenAI}, zapNop())
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)
}
