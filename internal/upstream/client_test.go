package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(retries int) *Client {
	return NewClient(ClientConfig{
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		RetryDelayBase: time.Millisecond,
	})
}

func TestGet_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusServiceUnavailable, Unavailable},
		{http.StatusInternalServerError, Unavailable},
		{http.StatusForbidden, Unavailable},
		{http.StatusNotFound, InvalidResponse},
		{http.StatusGatewayTimeout, Timeout},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testClient(1).get(context.Background(), "test", srv.URL, nil)
			kind, ok := KindOf(err)
			if !ok {
				t.Fatalf("expected upstream error, got %v", err)
			}
			if kind != tt.kind {
				t.Errorf("status %d mapped to %s, want %s", tt.status, kind, tt.kind)
			}
		})
	}
}

func TestGet_RetriesUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	if err := testClient(3).getJSON(context.Background(), "test", srv.URL, nil, &out); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !out.OK || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls and decoded body, got calls=%d ok=%v", calls, out.OK)
	}
}

func TestGet_RateLimitedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(3).get(context.Background(), "test", srv.URL, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestGet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: 50 * time.Millisecond, MaxRetries: 1})
	_, err := c.get(context.Background(), "test", srv.URL, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var ue *Error
	if !errors.As(err, &ue) || !ue.Recoverable() {
		t.Errorf("expected recoverable upstream error, got %v", err)
	}
}

func TestGet_TimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: 50 * time.Millisecond, MaxRetries: 2, RetryDelayBase: time.Millisecond})
	body, err := c.get(context.Background(), "test", srv.URL, nil)
	if err != nil {
		t.Fatalf("expected success after a timed out attempt, got %v", err)
	}
	if string(body) != `{"ok":true}` || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls and body, got calls=%d body=%s", calls, body)
	}
}

func TestGetJSON_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := testClient(1).getJSON(context.Background(), "test", srv.URL, nil, &out)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestFlexFloat(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		err   bool
	}{
		{`1.5`, 1.5, false},
		{`"2.25"`, 2.25, false},
		{`"$1,234.5"`, 1234.5, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var f flexFloat
			err := f.UnmarshalJSON([]byte(tt.input))
			if (err != nil) != tt.err {
				t.Fatalf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.err)
			}
			if !tt.err && float64(f) != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %v, want %v", tt.input, float64(f), tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := &Error{Source: "coingecko", Kind: Unavailable, Status: 503}
	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected errors.Is to match Unavailable sentinel")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("did not expect match on RateLimited sentinel")
	}
}
