package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultRetryStrategy(t *testing.T) {
	if DefaultRetryStrategy(http.StatusTooManyRequests) != SmartRetry {
		t.Error("429 should use smart retry")
	}
	if DefaultRetryStrategy(http.StatusInternalServerError) != ConservativeRetry {
		t.Error("500 should use conservative retry")
	}
	if DefaultRetryStrategy(http.StatusBadRequest) != NoRetry {
		t.Error("4xx must not retry")
	}
	if DefaultRetryStrategy(http.StatusUnauthorized) != NoRetry {
		t.Error("401 must not retry")
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(5), WithBaseDelay(time.Millisecond))

	req, _ := http.NewRequest("GET", srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ClientErrorSurfacesImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(5), WithBaseDelay(time.Millisecond))

	req, _ := http.NewRequest("GET", srv.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("4xx must surface as an error")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retry)", calls)
	}
}

func TestDo_ExhaustedRetriesReturnRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond))

	req, _ := http.NewRequest("GET", srv.URL, nil)
	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}

	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if retryErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", retryErr.StatusCode)
	}
	if !retryErr.IsRetryable() {
		t.Error("RetryableError must report retryable")
	}
}

func TestCalculateDelay_ExponentialWithCap(t *testing.T) {
	client := New(WithBaseDelay(100*time.Millisecond), WithMaxDelay(3200*time.Millisecond))

	delays := []time.Duration{
		client.calculateDelay(ConservativeRetry, 0, RateLimitInfo{}),
		client.calculateDelay(ConservativeRetry, 1, RateLimitInfo{}),
		client.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}),
		client.calculateDelay(ConservativeRetry, 10, RateLimitInfo{}),
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 3200 * time.Millisecond}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestCalculateDelay_HonorsRetryAfter(t *testing.T) {
	client := New()

	delay := client.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 7 * time.Second})
	if delay != 7*time.Second {
		t.Errorf("delay = %v, want retry-after value", delay)
	}
}

func TestParseAnthropicRateLimitHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("retry-after", "30")
	headers.Set("anthropic-ratelimit-requests-remaining", "12")

	info := ParseAnthropicRateLimitHeaders(headers)
	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v", info.RetryAfter)
	}
	if info.RequestsRemaining != 12 {
		t.Errorf("RequestsRemaining = %d", info.RequestsRemaining)
	}
}
