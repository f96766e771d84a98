package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/history"
	"github.com/autodrive/autodrive/internal/domain/retry"
)

// Authenticator is the subset of auth.Manager ModelClient needs. It is
// an interface (rather than a direct *auth.Manager dependency) so the
// Responses-API wire code stays decoupled from the auth package, the
// same way compaction.Engine depends on a RemoteSummarizer interface
// instead of calling an LLM client concretely.
type Authenticator interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// BetaHeaderVariant selects which `OpenAI-Beta` value ModelClient adds
// when the provider does not already supply one.
type BetaHeaderVariant string

const (
	BetaPublic  BetaHeaderVariant = "responses=v1"
	BetaBackend BetaHeaderVariant = "responses=experimental"
)

// Client performs a single streaming decision request and surfaces a
// typed event stream.
type Client struct {
	baseURL      string
	auth         Authenticator
	defaultModel string
	beta         BetaHeaderVariant
	httpClient   *http.Client
	logger       *zap.Logger
	idleTimeout  time.Duration

	// reasoningSummaryDisabled is set once the provider rejects
	// reasoning.summary and sticks for this client's lifetime.
	reasoningSummaryDisabled atomic.Bool

	// onDuplicate, when set, is invoked for every SSE delta dropped by
	// the dedup layer, feeding the session's duplicate-item counter.
	onDuplicate func()
}

// OnDuplicate registers the dropped-delta callback. Not safe to call
// concurrently with Stream.
func (c *Client) OnDuplicate(fn func()) {
	c.onDuplicate = fn
}

func (c *Client) noteDuplicate() {
	if c.onDuplicate != nil {
		c.onDuplicate()
	}
}

// New constructs a ModelClient. idleTimeout of 0 defaults to 5s.
func New(baseURL string, authenticator Authenticator, defaultModel string, beta BetaHeaderVariant, idleTimeout time.Duration, logger *zap.Logger) *Client {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		auth:         authenticator,
		defaultModel: defaultModel,
		beta:         beta,
		httpClient:   &http.Client{Transport: transport},
		logger:       logger,
		idleTimeout:  idleTimeout,
	}
}

// Stream performs one streaming decision request, invoking emit for
// every admitted event in order, ending with a Completed event on
// success. It internally retries, immediately and outside of any
// caller backoff loop, the reasoning-summary-unsupported, 401, and
// invalid-model-slug cases; any other failure is returned wrapped as a
// *retry.ProviderError or *retry.TransportError for the caller's
// RetryEngine to classify.
func (c *Client) Stream(ctx context.Context, req Request, emit func(Event)) error {
	return c.attempt(ctx, req, emit, attemptState{})
}

type attemptState struct {
	reasoningRetried bool
	authRetried      bool
	modelRetried     bool
}

func (c *Client) attempt(ctx context.Context, req Request, emit func(Event), state attemptState) error {
	if c.reasoningSummaryDisabled.Load() {
		req.Reasoning = nil
	}

	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return &retry.TransportError{Cause: fmt.Errorf("modelclient: resolve access token: %w", err)}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return &retry.TransportError{Cause: fmt.Errorf("modelclient: marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return &retry.TransportError{Cause: fmt.Errorf("modelclient: build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if httpReq.Header.Get("OpenAI-Beta") == "" {
		httpReq.Header.Set("OpenAI-Beta", string(c.beta))
	}
	if req.ConversationID != "" {
		httpReq.Header.Set("conversation_id", req.ConversationID)
	}
	if req.SessionID != "" {
		httpReq.Header.Set("session_id", req.SessionID)
	}
	if req.AccountID != "" {
		httpReq.Header.Set("chatgpt-account-id", req.AccountID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &retry.TransportError{Cause: fmt.Errorf("modelclient: request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return c.handleErrorResponse(ctx, resp, respBody, req, emit, state)
	}

	snapshot := parseRateLimitHeaders(resp.Header)
	if snapshot != nil {
		emit(Event{Kind: EventRateLimits, RateLimits: snapshot})
	}

	return c.consumeStream(ctx, resp.Body, emit)
}

// handleErrorResponse covers the three in-place recovery paths:
// reasoning-summary rejection, 401 auth refresh, and invalid-model
// fallback. Anything else is classified into a *retry.ProviderError.
func (c *Client) handleErrorResponse(ctx context.Context, resp *http.Response, body []byte, req Request, emit func(Event), state attemptState) error {
	bodyStr := string(body)

	if resp.StatusCode == http.StatusBadRequest && !state.reasoningRetried && isReasoningSummaryRejection(bodyStr) {
		c.reasoningSummaryDisabled.Store(true)
		state.reasoningRetried = true
		c.logger.Warn("modelclient: provider rejected reasoning.summary, retrying without it")
		return c.attempt(ctx, req, emit, state)
	}

	if resp.StatusCode == http.StatusUnauthorized && !state.authRetried {
		state.authRetried = true
		if _, err := c.auth.RefreshToken(ctx); err != nil {
			return &retry.ProviderError{
				StatusCode:           resp.StatusCode,
				Message:              "auth refresh failed: " + err.Error(),
				PermanentAuthRefresh: isPermanentAuthFailure(err),
				Cause:                err,
			}
		}
		return c.attempt(ctx, req, emit, state)
	}

	if !state.modelRetried && c.defaultModel != "" && req.Model != c.defaultModel && isInvalidModelError(bodyStr) {
		state.modelRetried = true
		c.logger.Warn("modelclient: invalid model, falling back to default",
			zap.String("requested", req.Model), zap.String("default", c.defaultModel))
		req.Model = c.defaultModel
		return c.attempt(ctx, req, emit, state)
	}

	return &retry.ProviderError{
		StatusCode: resp.StatusCode,
		Message:    bodyStr,
		Headers:    resp.Header,
	}
}

// isPermanentAuthFailure reports whether err is the permanent variant
// of auth.RefreshTokenError, without importing the auth package
// directly; ModelClient only needs the classification, not the type.
// An error that carries no such classification is reported as permanent.
func isPermanentAuthFailure(err error) bool {
	type permanenter interface{ IsPermanent() bool }
	if p, ok := err.(permanenter); ok {
		return p.IsPermanent()
	}
	return true
}

func isReasoningSummaryRejection(body string) bool {
	lower := strings.ToLower(body)
	hasParam := strings.Contains(lower, "reasoning.summary")
	hasCode := strings.Contains(lower, "unsupported_value")
	hasVerification := strings.Contains(lower, "organization must be verified") && strings.Contains(lower, "reasoning summar")
	return (hasParam && hasCode) || hasVerification
}

var invalidModelPatterns = regexp.MustCompile(`(?i)invalid model|unknown model|model_not_found|model does not exist`)

func isInvalidModelError(body string) bool {
	return invalidModelPatterns.MatchString(body)
}

// consumeStream reads the SSE body, deduplicating and converting raw
// events into the typed Event stream, guarded by the idle timeout.
func (c *Client) consumeStream(ctx context.Context, r io.Reader, emit func(Event)) error {
	tReader := &idleReader{r: r, timeout: c.idleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	dedup := newDeduper()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var raw rawSSEEvent
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			c.logger.Debug("modelclient: skip unparseable SSE event", zap.Error(err))
			continue
		}

		if done, err := c.dispatch(&raw, dedup, emit); done {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			return &retry.TransportError{Cause: fmt.Errorf("[idle] timeout waiting for SSE")}
		}
		return &retry.TransportError{Cause: fmt.Errorf("modelclient: SSE scan error: %w", err)}
	}
	return nil
}

// dispatch converts one raw SSE event into zero or more typed Events.
// It returns done=true once a terminal event (Completed/failed) has
// been handled, along with the error the caller should return (nil on
// success).
func (c *Client) dispatch(raw *rawSSEEvent, dedup *deduper, emit func(Event)) (bool, error) {
	switch raw.Type {
	case "response.created":
		emit(Event{Kind: EventCreated})
		return false, nil

	case "response.output_text.delta":
		sub := 0
		key := deltaKey(raw.ItemID, raw.OutputIndex, sub)
		if dedup.Admit(key, raw.SequenceNumber, raw.Delta) {
			emit(Event{
				Kind: EventOutputTextDelta, Delta: raw.Delta, ItemID: raw.ItemID,
				OutputIndex: raw.OutputIndex, Seq: raw.SequenceNumber,
			})
		} else {
			c.noteDuplicate()
		}
		return false, nil

	case "response.reasoning_summary_text.delta":
		sub := 0
		if raw.SummaryIndex != nil {
			sub = *raw.SummaryIndex
		}
		key := deltaKey(raw.ItemID, raw.OutputIndex, sub)
		if dedup.Admit(key, raw.SequenceNumber, raw.Delta) {
			emit(Event{
				Kind: EventReasoningSummaryDelta, Delta: raw.Delta, ItemID: raw.ItemID,
				OutputIndex: raw.OutputIndex, SummaryIndex: sub, Seq: raw.SequenceNumber,
			})
		} else {
			c.noteDuplicate()
		}
		return false, nil

	case "response.reasoning_text.delta":
		sub := 0
		if raw.ContentIndex != nil {
			sub = *raw.ContentIndex
		}
		key := deltaKey(raw.ItemID, raw.OutputIndex, sub)
		if dedup.Admit(key, raw.SequenceNumber, raw.Delta) {
			emit(Event{
				Kind: EventReasoningContentDelta, Delta: raw.Delta, ItemID: raw.ItemID,
				OutputIndex: raw.OutputIndex, ContentIndex: sub, Seq: raw.SequenceNumber,
			})
		} else {
			c.noteDuplicate()
		}
		return false, nil

	case "response.reasoning_summary_part.added":
		// Informational only; no dedicated Event variant.
		return false, nil

	case "response.output_item.done":
		if raw.Item == nil {
			return false, nil
		}
		item, err := toResponseItem(raw.Item)
		if err != nil {
			return true, &retry.TransportError{Cause: fmt.Errorf("modelclient: decode output item: %w", err)}
		}
		if item.Type == history.KindWebSearchCall {
			// The wire only reports web search calls once they are
			// already finished, so both halves of the synthesized
			// begin/completed pair fire together here.
			emit(Event{Kind: EventWebSearchCallBegin, CallID: item.CallID})
			emit(Event{Kind: EventWebSearchCallDone, CallID: item.CallID})
		}
		emit(Event{Kind: EventOutputItemDone, Item: item, OutputIndex: raw.OutputIndex})
		return false, nil

	case "response.failed":
		msg := "response failed"
		code := ""
		if raw.Response != nil && raw.Response.Error != nil {
			msg = raw.Response.Error.Message
			code = raw.Response.Error.Code
		}
		return true, &retry.ProviderError{Message: msg, Code: code}

	case "response.completed":
		var usage *TokenUsage
		var responseID string
		if raw.Response != nil {
			responseID = raw.Response.ID
			usage = raw.Response.Usage.toTokenUsage()
		}
		emit(Event{Kind: EventCompleted, ResponseID: responseID, Usage: usage})
		return true, nil

	default:
		return false, nil
	}
}

// parseRateLimitHeaders reads the x-codex-* rate-limit headers: a
// snapshot is only emitted if all five mandatory headers
// parse as floats.
func parseRateLimitHeaders(h http.Header) *RateLimitSnapshot {
	get := func(name string) (float64, bool) {
		v := h.Get(name)
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}

	primaryUsed, ok1 := get("x-codex-primary-used-percent")
	secondaryUsed, ok2 := get("x-codex-secondary-used-percent")
	overLimit, ok3 := get("x-codex-primary-over-secondary-limit-percent")
	primaryWindow, ok4 := get("x-codex-primary-window-minutes")
	secondaryWindow, ok5 := get("x-codex-secondary-window-minutes")
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil
	}

	snapshot := &RateLimitSnapshot{
		PrimaryUsedPercent:           primaryUsed,
		SecondaryUsedPercent:         secondaryUsed,
		PrimaryOverSecondaryLimitPct: overLimit,
		PrimaryWindowMinutes:         primaryWindow,
		SecondaryWindowMinutes:       secondaryWindow,
	}
	if v, ok := get("x-codex-primary-reset-after-seconds"); ok {
		snapshot.PrimaryResetAfterSeconds = &v
	}
	if v, ok := get("x-codex-secondary-reset-after-seconds"); ok {
		snapshot.SecondaryResetAfterSeconds = &v
	}
	return snapshot
}

// idleReader applies a per-Read deadline so a silent SSE stream fails
// fast instead of hanging.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
}

var errIdleTimeout = fmt.Errorf("modelclient: SSE read idle timeout")

func (t *idleReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
