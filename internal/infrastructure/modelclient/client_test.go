package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/retry"
)

type fakeAuth struct {
	token        string
	refreshCalls int
	refreshErr   error
}

func (f *fakeAuth) AccessToken(ctx context.Context) (string, error) { return f.token, nil }
func (f *fakeAuth) RefreshToken(ctx context.Context) (string, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = "refreshed-token"
	return f.token, nil
}

type permanentErr struct{ msg string }

func (e *permanentErr) Error() string    { return e.msg }
func (e *permanentErr) IsPermanent() bool { return true }

func writeSSE(w http.ResponseWriter, events []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestStreamEmitsTextDeltasAndCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`{"type":"response.created"}`,
			`{"type":"response.output_text.delta","delta":"hel","item_id":"item1","output_index":0,"sequence_number":1}`,
			`{"type":"response.output_text.delta","delta":"lo","item_id":"item1","output_index":0,"sequence_number":2}`,
			`{"type":"response.completed","response":{"id":"resp1","usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}}`,
		})
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "default-model", BetaPublic, time.Second, zap.NewNop())

	var events []Event
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var sawCompleted bool
	for _, e := range events {
		if e.Kind == EventOutputTextDelta {
			text += e.Delta
		}
		if e.Kind == EventCompleted {
			sawCompleted = true
			if e.Usage == nil || e.Usage.TotalTokens != 15 {
				t.Fatalf("usage = %+v, want total 15", e.Usage)
			}
		}
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
	if !sawCompleted {
		t.Fatal("expected a Completed event")
	}
}

func TestStreamDropsDuplicateAndOutOfOrderDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`{"type":"response.output_text.delta","delta":"a","item_id":"item1","output_index":0,"sequence_number":5}`,
			`{"type":"response.output_text.delta","delta":"b","item_id":"item1","output_index":0,"sequence_number":5}`,
			`{"type":"response.output_text.delta","delta":"c","item_id":"item1","output_index":0,"sequence_number":3}`,
			`{"type":"response.output_text.delta","delta":"d","item_id":"item1","output_index":0,"sequence_number":6}`,
			`{"type":"response.completed","response":{"id":"resp1"}}`,
		})
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "", BetaPublic, time.Second, zap.NewNop())

	var text string
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(e Event) {
		if e.Kind == EventOutputTextDelta {
			text += e.Delta
		}
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text != "ad" {
		t.Fatalf("text = %q, want ad (duplicate seq=5 and stale seq=3 dropped)", text)
	}
}

func TestStreamRetriesWithoutReasoningOnUnsupportedValue(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"unsupported_value","param":"reasoning.summary","message":"not supported"}}`))
			return
		}
		writeSSE(w, []string{`{"type":"response.completed","response":{"id":"resp1"}}`})
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "", BetaPublic, time.Second, zap.NewNop())
	req := Request{Model: "gpt-5", Reasoning: &Reasoning{Effort: "high", Summary: "auto"}}
	err := c.Stream(context.Background(), req, func(Event) {})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (original + retry without reasoning)", calls)
	}
	if !c.reasoningSummaryDisabled.Load() {
		t.Fatal("expected sticky reasoningSummaryDisabled flag to be set")
	}
}

func TestStreamRefreshesOn401ThenRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			t.Errorf("expected refreshed token on retry, got %q", r.Header.Get("Authorization"))
		}
		writeSSE(w, []string{`{"type":"response.completed","response":{"id":"resp1"}}`})
	}))
	defer server.Close()

	auth := &fakeAuth{token: "stale-token"}
	c := New(server.URL, auth, "", BetaPublic, time.Second, zap.NewNop())
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(Event) {})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if auth.refreshCalls != 1 {
		t.Fatalf("refreshCalls = %d, want 1", auth.refreshCalls)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestStreamSurfacesPermanentAuthRefreshFailureAsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	auth := &fakeAuth{token: "stale-token", refreshErr: &permanentErr{msg: "revoked"}}
	c := New(server.URL, auth, "", BetaPublic, time.Second, zap.NewNop())
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(Event) {})
	if err == nil {
		t.Fatal("expected an error")
	}

	verdict := retry.Classify(err, time.Now())
	if verdict.Kind != retry.KindFatal {
		t.Fatalf("verdict = %+v, want Fatal", verdict)
	}
}

func TestStreamFallsBackToDefaultModelOnInvalidModel(t *testing.T) {
	var seenModels []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		seenModels = append(seenModels, req.Model)
		if req.Model != "default-model" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"invalid model: no such model"}}`))
			return
		}
		writeSSE(w, []string{`{"type":"response.completed","response":{"id":"resp1"}}`})
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "default-model", BetaPublic, time.Second, zap.NewNop())
	err := c.Stream(context.Background(), Request{Model: "bogus-model"}, func(Event) {})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(seenModels) != 2 || seenModels[1] != "default-model" {
		t.Fatalf("seenModels = %v, want [bogus-model default-model]", seenModels)
	}
}

func TestParseRateLimitHeadersRequiresAllFive(t *testing.T) {
	h := http.Header{}
	h.Set("x-codex-primary-used-percent", "10")
	h.Set("x-codex-secondary-used-percent", "20")
	// missing the other three mandatory headers
	if snap := parseRateLimitHeaders(h); snap != nil {
		t.Fatalf("expected nil snapshot when headers incomplete, got %+v", snap)
	}

	h.Set("x-codex-primary-over-secondary-limit-percent", "5")
	h.Set("x-codex-primary-window-minutes", "60")
	h.Set("x-codex-secondary-window-minutes", "1440")
	snap := parseRateLimitHeaders(h)
	if snap == nil {
		t.Fatal("expected a snapshot once all five mandatory headers are present")
	}
	if snap.PrimaryUsedPercent != 10 || snap.SecondaryWindowMinutes != 1440 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestStreamIdleTimeoutClassifiesAsRetryAfterBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "", BetaPublic, 30*time.Millisecond, zap.NewNop())
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(Event) {})
	if err == nil {
		t.Fatal("expected idle-timeout error")
	}
	verdict := retry.Classify(err, time.Now())
	if verdict.Kind != retry.KindRetryAfterBackoff {
		t.Fatalf("verdict = %+v, want RetryAfterBackoff", verdict)
	}
}

func TestStreamFailedEventWithInsufficientQuotaIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`{"type":"response.created"}`,
			`{"type":"response.failed","response":{"error":{"code":"insufficient_quota","message":"You exceeded your current quota"}}}`,
		})
	}))
	defer server.Close()

	c := New(server.URL, &fakeAuth{token: "tok"}, "", BetaPublic, time.Second, zap.NewNop())
	err := c.Stream(context.Background(), Request{Model: "gpt-5"}, func(Event) {})
	if err == nil {
		t.Fatal("expected error from response.failed")
	}
	verdict := retry.Classify(err, time.Now())
	if verdict.Kind != retry.KindFatal {
		t.Fatalf("verdict = %+v, want Fatal", verdict)
	}
}
