package httpclient

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableErrorMessageIncludesRetryAfter(t *testing.T) {
	err := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 2 * time.Second}
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "retry after")
	assert.True(t, err.IsRetryable())
}

func TestRetryableErrorMessageOmitsRetryAfterWhenZero(t *testing.T) {
	err := &RetryableError{StatusCode: 500, Message: "server error"}
	assert.NotContains(t, err.Error(), "retry after")
}

func TestRetryableErrorUnwrapsUnderlyingError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &RetryableError{StatusCode: 503, Message: "unavailable", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestParseOpenAIRateLimitHeadersReadsRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")
	info := ParseOpenAIRateLimitHeaders(h)
	assert.Equal(t, 5*time.Second, info.RetryAfter)
}

func TestParseOpenAIRateLimitHeadersReadsResetTime(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-reset-requests", "1700000000")
	info := ParseOpenAIRateLimitHeaders(h)
	assert.Equal(t, int64(1700000000), info.ResetTime)
}

func TestParseOpenAIRateLimitHeadersHandlesMissingHeaders(t *testing.T) {
	info := ParseOpenAIRateLimitHeaders(http.Header{})
	assert.Zero(t, info.RetryAfter)
	assert.Zero(t, info.ResetTime)
}
