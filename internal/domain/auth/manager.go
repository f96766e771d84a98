package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/retry"
)

// APIKeyEnvVar is the environment variable AuthManager prefers over
// auth.json on startup.
const APIKeyEnvVar = "OPENAI_API_KEY"

// TokenEndpoint is the provider's OAuth refresh endpoint.
const TokenEndpoint = "https://auth.openai.com/oauth/token"

// ClientID is the OAuth client id used for the refresh_token grant.
const ClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// maxRefreshAttempts bounds the exponential-backoff retry loop inside
// a single RefreshToken() call.
const maxRefreshAttempts = 4

// refreshKind distinguishes a refresh failure the caller should give up
// on (bad/revoked grant) from one worth retrying (network blip, 5xx).
type refreshKind int

const (
	refreshPermanent refreshKind = iota
	refreshTransient
)

// RefreshTokenError is AuthManager's internal classification of a
// failed /oauth/token call.
type RefreshTokenError struct {
	Kind    refreshKind
	Message string
}

func (e *RefreshTokenError) Error() string { return e.Message }

func (e *RefreshTokenError) IsPermanent() bool { return e.Kind == refreshPermanent }

// IsRefreshTokenReused reports whether the provider rejected the
// refresh call because the refresh token had already been rotated by
// another process.
func (e *RefreshTokenError) IsRefreshTokenReused() bool {
	return strings.Contains(e.Message, "refresh_token_reused")
}

func permanentErr(format string, args ...any) *RefreshTokenError {
	return &RefreshTokenError{Kind: refreshPermanent, Message: fmt.Sprintf(format, args...)}
}

func transientErr(format string, args ...any) *RefreshTokenError {
	return &RefreshTokenError{Kind: refreshTransient, Message: fmt.Sprintf(format, args...)}
}

// cachedAuth is the `{preferred_mode, auth?}` snapshot. apiKey is empty
// and tokens is nil when no credential is available at all.
type cachedAuth struct {
	preferredMode Mode
	mode          Mode
	apiKey        string
	tokens        *TokenData
	lastRefresh   *time.Time
}

// Manager is the AuthManager: a serialized, in-process cache of the
// active credential plus the refresh/rotation flow against the
// provider's OAuth endpoint. The zero value is not usable; use New.
type Manager struct {
	homeDir    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	cache cachedAuth
}

// New loads the initial credential: an environment API key wins outright;
// otherwise auth.json is read and preferredMode arbitrates between a
// stored API key and stored tokens.
func New(homeDir string, preferredMode Mode, logger *zap.Logger) *Manager {
	m := &Manager{
		homeDir:    homeDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	m.cache = m.load(preferredMode)
	return m
}

// load applies the startup credential precedence rule.
func (m *Manager) load(preferredMode Mode) cachedAuth {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnvVar)); key != "" {
		return cachedAuth{preferredMode: ModeAPIKey, mode: ModeAPIKey, apiKey: key}
	}

	doc, err := ReadAuthFile(AuthFilePath(m.homeDir))
	if err != nil {
		if m.logger != nil && !os.IsNotExist(err) {
			m.logger.Warn("auth: failed reading auth.json", zap.Error(err))
		}
		return cachedAuth{preferredMode: preferredMode}
	}

	if doc.OpenAIAPIKey != nil && *doc.OpenAIAPIKey != "" {
		enterprise := doc.Tokens != nil && doc.Tokens.PlanType == PlanEnterprise
		if doc.Tokens == nil || enterprise || preferredMode == ModeAPIKey {
			return cachedAuth{
				preferredMode: preferredMode,
				mode:          ModeAPIKey,
				apiKey:        *doc.OpenAIAPIKey,
			}
		}
		// Tokens are present, caller didn't prefer ApiKey, and the plan
		// doesn't force it: fall through to ChatGPT mode below.
	}

	if doc.Tokens == nil {
		return cachedAuth{preferredMode: preferredMode}
	}
	return cachedAuth{
		preferredMode: preferredMode,
		mode:          ModeChatGPT,
		tokens:        doc.Tokens,
		lastRefresh:   doc.LastRefresh,
	}
}

// Reload re-reads the environment and auth.json, replacing the cached
// snapshot. Returns whether the effective credential changed.
func (m *Manager) Reload() bool {
	m.mu.Lock()
	preferred := m.cache.preferredMode
	old := m.cache
	m.cache = m.load(preferred)
	changed := old != m.cache
	m.mu.Unlock()
	return changed
}

// Mode reports the currently active auth mode.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.mode
}

// HasCredential reports whether any credential (API key or tokens) is
// currently cached.
func (m *Manager) HasCredential() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.apiKey != "" || m.cache.tokens != nil
}

// AccountID returns the cached tokens' account_id, if any.
func (m *Manager) AccountID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache.tokens == nil {
		return ""
	}
	return m.cache.tokens.AccountID
}

// AccessToken returns the bearer token ModelClient should send: the
// static API key in ApiKey mode, or the cached access token in ChatGPT
// mode, refreshing first if it is more than 28 days stale.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	mode := m.cache.mode
	apiKey := m.cache.apiKey
	tokens := m.cache.tokens
	lastRefresh := m.cache.lastRefresh
	m.mu.RUnlock()

	if mode == ModeAPIKey {
		return apiKey, nil
	}
	if tokens == nil {
		return "", fmt.Errorf("auth: no credential available")
	}
	if lastRefresh == nil || time.Since(*lastRefresh) > 28*24*time.Hour {
		token, err := m.RefreshToken(ctx)
		if err != nil {
			return "", err
		}
		return token, nil
	}
	return tokens.AccessToken, nil
}

// RefreshToken runs the refresh flow and, on success, updates the
// in-memory cache and rewrites auth.json. The returned error is wrapped
// as a *retry.ProviderError with PermanentAuthRefresh set when the
// failure is permanent, or a *retry.TransportError when it is
// transient, so retry.Classify routes the caller correctly.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	tokens := m.cache.tokens
	m.mu.RUnlock()
	if tokens == nil {
		return "", wrapRefreshErr(permanentErr("auth: no token data available to refresh"))
	}
	staleRefresh := tokens.RefreshToken

	var lastErr *RefreshTokenError
	for attempt := 1; attempt <= maxRefreshAttempts; attempt++ {
		resp, err := m.callRefresh(ctx, staleRefresh)
		if err == nil {
			access, perr := m.persistRefresh(resp)
			if perr != nil {
				return "", wrapRefreshErr(perr)
			}
			return access, nil
		}

		if err.IsRefreshTokenReused() {
			if access, ok := m.adoptFromDisk(staleRefresh); ok {
				return access, nil
			}
		}

		lastErr = err
		if err.Kind == refreshTransient && attempt < maxRefreshAttempts {
			if m.logger != nil {
				m.logger.Warn("auth: transient refresh failure, backing off",
					zap.Int("attempt", attempt), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(refreshBackoff(attempt)):
			}
			continue
		}
		break
	}
	return "", wrapRefreshErr(lastErr)
}

// refreshBackoff is an exponential backoff with full jitter, doubling
// from a 500ms base and capping at 8s, for the 4-attempt refresh loop.
func refreshBackoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	max := 8 * time.Second
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// adoptFromDisk handles `refresh_token_reused`: re-read auth.json, and if its refresh token differs from
// the stale in-memory one, another process already rotated it: adopt
// the on-disk access token instead of erroring.
func (m *Manager) adoptFromDisk(staleRefreshToken string) (string, bool) {
	doc, err := ReadAuthFile(AuthFilePath(m.homeDir))
	if err != nil || doc.Tokens == nil {
		return "", false
	}
	if doc.Tokens.RefreshToken == staleRefreshToken {
		return "", false
	}

	m.mu.Lock()
	m.cache.tokens = doc.Tokens
	m.cache.lastRefresh = doc.LastRefresh
	m.cache.mode = ModeChatGPT
	m.mu.Unlock()
	return doc.Tokens.AccessToken, true
}

type refreshResponse struct {
	IDToken      string  `json:"id_token"`
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
}

func (m *Manager) callRefresh(ctx context.Context, refreshToken string) (*refreshResponse, *RefreshTokenError) {
	body, _ := json.Marshal(map[string]string{
		"client_id":     ClientID,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"scope":         "openid profile email",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr("auth: build refresh request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, transientErr("network error: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed refreshResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, transientErr("invalid response: %v", err)
		}
		return &parsed, nil
	}
	return nil, classifyRefreshFailure(resp.StatusCode, respBody)
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type providerErrorWrapper struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyRefreshFailure maps an /oauth/token failure onto the
// permanent/transient table.
func classifyRefreshFailure(status int, body []byte) *RefreshTokenError {
	var wrapped providerErrorWrapper
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
		if wrapped.Error.Code == "refresh_token_reused" {
			msg := wrapped.Error.Message
			if msg == "" {
				msg = "refresh token already rotated"
			}
			return transientErr("refresh_token_reused: %s", msg)
		}
	}

	var oauthErr oauthErrorBody
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
		desc := oauthErr.ErrorDescription
		if desc == "" {
			desc = oauthErr.Error
		}
		formatted := fmt.Sprintf("OAuth error (%s): %s", oauthErr.Error, strings.TrimSpace(desc))
		switch oauthErr.Error {
		case "invalid_grant", "invalid_client", "invalid_scope", "access_denied":
			return permanentErr("%s", formatted)
		case "temporarily_unavailable":
			return transientErr("%s", formatted)
		default:
			if status >= 500 {
				return transientErr("%s", formatted)
			}
			if status >= 400 {
				return permanentErr("%s", formatted)
			}
		}
	}

	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return permanentErr("OAuth refresh rejected (%d): %s", status, summarizeBody(body))
	}
	if status >= 400 && status < 500 {
		return permanentErr("OAuth refresh failed (%d): %s", status, summarizeBody(body))
	}
	if status >= 500 {
		return transientErr("OAuth refresh temporarily unavailable (%d): %s", status, summarizeBody(body))
	}
	return transientErr("OAuth refresh failed with unexpected response (%d)", status)
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty response>"
	}
	const maxLen = 240
	if len(trimmed) > maxLen {
		return trimmed[:maxLen] + "…"
	}
	return trimmed
}

// persistRefresh writes the rotated tokens to auth.json and swaps the
// in-memory cache; the disk write happens before the swap.
func (m *Manager) persistRefresh(resp *refreshResponse) (string, *RefreshTokenError) {
	path := AuthFilePath(m.homeDir)
	doc, err := ReadAuthFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", permanentErr("auth: re-read auth.json before persisting refresh: %v", err)
		}
		doc = &AuthDotJson{}
	}
	if doc.Tokens == nil {
		doc.Tokens = &TokenData{}
	}
	doc.Tokens.IDToken = resp.IDToken
	if resp.AccessToken != nil {
		doc.Tokens.AccessToken = *resp.AccessToken
	}
	if resp.RefreshToken != nil {
		doc.Tokens.RefreshToken = *resp.RefreshToken
	}
	if plan, err := ParseIDTokenPlan(resp.IDToken); err == nil {
		doc.Tokens.PlanType = plan
	}
	now := time.Now().UTC()
	doc.LastRefresh = &now

	if err := WriteAuthFile(path, doc); err != nil {
		return "", permanentErr("auth: write auth.json: %v", err)
	}

	m.mu.Lock()
	m.cache.tokens = doc.Tokens
	m.cache.lastRefresh = doc.LastRefresh
	m.cache.mode = ModeChatGPT
	access := doc.Tokens.AccessToken
	m.mu.Unlock()
	return access, nil
}

// wrapRefreshErr adapts a *RefreshTokenError into the error shapes
// retry.Classify expects.
func wrapRefreshErr(err *RefreshTokenError) error {
	if err == nil {
		return nil
	}
	if err.Kind == refreshPermanent {
		return &retry.ProviderError{
			Message:              err.Message,
			PermanentAuthRefresh: true,
			Cause:                err,
		}
	}
	return &retry.TransportError{Cause: err}
}

// Logout deletes auth.json (if present) and reloads the cache to the
// unauthenticated state. Returns whether a file was actually removed.
func (m *Manager) Logout() (bool, error) {
	path := AuthFilePath(m.homeDir)
	err := os.Remove(path)
	removed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	m.Reload()
	return removed, nil
}

// LoginWithAPIKey writes an auth.json containing only the given API
// key, clearing any stored tokens, then reloads the cache.
func (m *Manager) LoginWithAPIKey(apiKey string) error {
	doc := &AuthDotJson{OpenAIAPIKey: &apiKey}
	if err := WriteAuthFile(AuthFilePath(m.homeDir), doc); err != nil {
		return err
	}
	m.Reload()
	return nil
}
