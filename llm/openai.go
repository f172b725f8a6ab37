package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/internal/httpclient"
)

const defaultFrameBuffer = 64

var tracer = otel.Tracer("github.com/kadirpekel/conclave/llm")

// OpenAIClient is a streaming chat-completions client for any
// OpenAI-compatible endpoint (OpenAI itself, and the many local/hosted
// servers that mirror its wire format). It retries the connection attempt
// with exponential backoff but never retries once the first SSE frame has
// been read, since by then partial content may already be in the channel.
type OpenAIClient struct {
	httpClient *http.Client
}

// NewOpenAIClient returns a client using http for transport. http may be
// nil to use http.DefaultClient.
func NewOpenAIClient(client *http.Client) *OpenAIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIClient{httpClient: client}
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Tools       []chatToolParam `json:"tools,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type chatToolParam struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Call implements Client. It returns a synchronous error only for failures
// that happen before any frame could have been emitted (bad config, ctx
// already cancelled, every connection attempt exhausted); failures
// discovered after streaming has begun are delivered as the last frame's
// Err field.
func (c *OpenAIClient) Call(ctx context.Context, messages []Message, tools []ToolSchema, cfg CallConfig) (<-chan Frame, error) {
	ctx, span := tracer.Start(ctx, "llm.Call", trace.WithAttributes(
		attribute.String("llm.model", cfg.Model),
		attribute.Int("llm.max_retries", cfg.MaxRetries),
		attribute.Int("llm.message_count", len(messages)),
	))

	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)

	body, err := json.Marshal(chatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Tools:       toChatTools(tools),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	maxTries := uint(cfg.MaxRetries + 1)
	if maxTries < 1 {
		maxTries = 1
	}

	resp, err := backoff.Retry(callCtx, func() (*http.Response, error) {
		return c.attempt(callCtx, body, cfg)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))

	if err != nil {
		cancel()
		var callErr error
		switch {
		case callCtx.Err() != nil && ctx.Err() != nil:
			callErr = &CancelledError{}
		case callCtx.Err() != nil:
			callErr = &TimeoutError{Timeout: cfg.Timeout.String()}
		default:
			callErr = &TransportError{Err: err, Attempt: int(maxTries)}
		}
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		span.End()
		return nil, callErr
	}

	frames := make(chan Frame, defaultFrameBuffer)
	go c.stream(callCtx, cancel, resp, frames, span)
	return frames, nil
}

// attempt performs one HTTP round trip. A non-retryable error (4xx other
// than 429) is wrapped in backoff.Permanent so Retry stops immediately.
func (c *OpenAIClient) attempt(ctx context.Context, body []byte, cfg CallConfig) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	rlErr := &httpclient.RetryableError{
		StatusCode: resp.StatusCode,
		Message:    string(respBody),
	}
	if info := httpclient.ParseOpenAIRateLimitHeaders(resp.Header); info.RetryAfter > 0 {
		rlErr.RetryAfter = info.RetryAfter
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, rlErr
	}
	return nil, backoff.Permanent(rlErr)
}

// stream reads SSE frames from resp.Body, aggregates them, and emits one
// Frame per delta plus a terminal FrameDone. It owns resp.Body and cancel.
func (c *OpenAIClient) stream(ctx context.Context, cancel context.CancelFunc, resp *http.Response, frames chan<- Frame, span trace.Span) {
	defer cancel()
	defer resp.Body.Close()
	defer close(frames)
	defer span.End()

	final := Message{Role: "assistant"}
	toolCalls := map[int]*ToolCall{}
	var toolOrder []int

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			c.emitErr(ctx, frames, span, final, toolCalls, toolOrder, &TransportError{Err: err, Attempt: 1})
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if string(data) == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			final.Content += delta.Content
			frames <- Frame{Kind: FrameContentDelta, ContentDelta: delta.Content}
		}
		if delta.ReasoningContent != "" {
			final.ReasoningContent += delta.ReasoningContent
			frames <- Frame{Kind: FrameReasoningDelta, ReasoningDelta: delta.ReasoningContent}
		}
		for _, tc := range delta.ToolCalls {
			existing, ok := toolCalls[tc.Index]
			if !ok {
				existing = &ToolCall{ID: tc.ID, Name: tc.Function.Name}
				toolCalls[tc.Index] = existing
				toolOrder = append(toolOrder, tc.Index)
			}
			if tc.Function.Name != "" {
				existing.Name = tc.Function.Name
			}
			existing.Arguments += tc.Function.Arguments
			frames <- Frame{Kind: FrameToolCallDelta, ToolCallDelta: tc.Function.Arguments}
		}
	}

	for _, idx := range toolOrder {
		final.ToolCalls = append(final.ToolCalls, *toolCalls[idx])
	}

	if IsEmpty(final) {
		err := &EmptyResponseError{}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		frames <- Frame{Kind: FrameDone, Final: &final, Err: err}
		return
	}
	if ctx.Err() != nil {
		err := &CancelledError{}
		span.SetStatus(codes.Error, err.Error())
		frames <- Frame{Kind: FrameDone, Final: &final, Err: err}
		return
	}
	span.SetAttributes(attribute.Int("llm.tool_call_count", len(final.ToolCalls)))
	span.SetStatus(codes.Ok, "")
	frames <- Frame{Kind: FrameDone, Final: &final}
}

func (c *OpenAIClient) emitErr(ctx context.Context, frames chan<- Frame, span trace.Span, final Message, toolCalls map[int]*ToolCall, toolOrder []int, err error) {
	for _, idx := range toolOrder {
		final.ToolCalls = append(final.ToolCalls, *toolCalls[idx])
	}
	if ctx.Err() != nil {
		err = &CancelledError{}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	frames <- Frame{Kind: FrameDone, Final: &final, Err: err}
}

func toChatTools(tools []ToolSchema) []chatToolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatToolParam, len(tools))
	for i, t := range tools {
		out[i] = chatToolParam{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
