package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func drain(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestCallAggregatesContentDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.Client())
	frames, err := client.Call(context.Background(), nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	got := drain(t, frames)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.Equal(t, FrameDone, last.Kind)
	require.NotNil(t, last.Final)
	assert.Equal(t, "Hello", last.Final.Content)
	assert.NoError(t, last.Err)
}

func TestCallDetectsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{}}]}`,
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.Client())
	frames, err := client.Call(context.Background(), nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	got := drain(t, frames)
	last := got[len(got)-1]
	require.Equal(t, FrameDone, last.Kind)
	var emptyErr *EmptyResponseError
	assert.ErrorAs(t, last.Err, &emptyErr)
}

func TestCallReasoningOnlyIsNotEmpty(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.Client())
	frames, err := client.Call(context.Background(), nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	got := drain(t, frames)
	last := got[len(got)-1]
	require.Equal(t, FrameDone, last.Kind)
	assert.NoError(t, last.Err)
	assert.Equal(t, "thinking...", last.Final.ReasoningContent)
}

func TestCallAggregatesToolCallDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.Client())
	frames, err := client.Call(context.Background(), nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	got := drain(t, frames)
	last := got[len(got)-1]
	require.Len(t, last.Final.ToolCalls, 1)
	assert.Equal(t, "search", last.Final.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, last.Final.ToolCalls[0].Arguments)
}

func TestCallSurfacesNonRetryableStatusWithoutRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad request")
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.Client())
	_, err := client.Call(context.Background(), nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test", MaxRetries: 3})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRespectsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewOpenAIClient(srv.Client())

	done := make(chan struct{})
	go func() {
		_, err := client.Call(ctx, nil, nil, CallConfig{EndpointURL: srv.URL, Model: "gpt-test", Timeout: 5 * time.Second})
		assert.Error(t, err)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}
