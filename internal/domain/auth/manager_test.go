package auth

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeIDToken(t *testing.T, plan string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{
		"email": "user@example.com",
		"https://api.openai.com/auth": map[string]string{
			"chatgpt_plan_type": plan,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func writeAuthFile(t *testing.T, home, apiKey, plan string) {
	t.Helper()
	doc := &AuthDotJson{}
	if apiKey != "" {
		doc.OpenAIAPIKey = &apiKey
	}
	if plan != "" {
		doc.Tokens = &TokenData{
			IDToken:      fakeIDToken(t, plan),
			AccessToken:  "test-access-token",
			RefreshToken: "test-refresh-token",
			PlanType:     plan,
		}
		last := time.Now().UTC()
		doc.LastRefresh = &last
	}
	if err := WriteAuthFile(AuthFilePath(home), doc); err != nil {
		t.Fatalf("write auth.json: %v", err)
	}
}

func TestParseIDTokenPlan(t *testing.T) {
	tok := fakeIDToken(t, "pro")
	plan, err := ParseIDTokenPlan(tok)
	if err != nil {
		t.Fatalf("ParseIDTokenPlan: %v", err)
	}
	if plan != "pro" {
		t.Fatalf("plan = %q, want pro", plan)
	}
}

func TestLoadPreferEnvAPIKey(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "", "pro")
	t.Setenv(APIKeyEnvVar, "sk-from-env")

	m := New(home, ModeChatGPT, nil)
	if m.Mode() != ModeAPIKey {
		t.Fatalf("mode = %v, want ApiKey", m.Mode())
	}
}

func TestLoadProAccountWithTokensUsesChatGPT(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "", "pro")

	m := New(home, ModeChatGPT, nil)
	if m.Mode() != ModeChatGPT {
		t.Fatalf("mode = %v, want ChatGPT", m.Mode())
	}
}

func TestLoadProAccountWithAPIKeyStillUsesChatGPT(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "sk-test-key", "pro")

	m := New(home, ModeChatGPT, nil)
	if m.Mode() != ModeChatGPT {
		t.Fatalf("mode = %v, want ChatGPT (plan doesn't force api key)", m.Mode())
	}
}

func TestLoadEnterpriseAccountWithAPIKeyForcesAPIKey(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "sk-test-key", "enterprise")

	m := New(home, ModeChatGPT, nil)
	if m.Mode() != ModeAPIKey {
		t.Fatalf("mode = %v, want ApiKey for enterprise plan", m.Mode())
	}
}

func TestLoadAPIKeyOnlyAuthJSON(t *testing.T) {
	home := t.TempDir()
	path := AuthFilePath(home)
	if err := os.WriteFile(path, []byte(`{"OPENAI_API_KEY":"sk-test-key","tokens":null}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := New(home, ModeChatGPT, nil)
	if m.Mode() != ModeAPIKey {
		t.Fatalf("mode = %v, want ApiKey", m.Mode())
	}
}

func TestLoginWithAPIKeyOverwritesExistingAuth(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "sk-old", "pro")

	m := New(home, ModeChatGPT, nil)
	if err := m.LoginWithAPIKey("sk-new"); err != nil {
		t.Fatalf("LoginWithAPIKey: %v", err)
	}

	doc, err := ReadAuthFile(AuthFilePath(home))
	if err != nil {
		t.Fatal(err)
	}
	if doc.OpenAIAPIKey == nil || *doc.OpenAIAPIKey != "sk-new" {
		t.Fatalf("OPENAI_API_KEY = %v, want sk-new", doc.OpenAIAPIKey)
	}
	if doc.Tokens != nil {
		t.Fatalf("tokens should be cleared, got %+v", doc.Tokens)
	}
	if m.Mode() != ModeAPIKey {
		t.Fatalf("mode after login = %v, want ApiKey", m.Mode())
	}
}

func TestLogoutRemovesAuthFile(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "sk-test-key", "")

	m := New(home, ModeChatGPT, nil)
	removed, err := m.Logout()
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !removed {
		t.Fatal("expected auth.json to be removed")
	}
	if _, err := os.Stat(AuthFilePath(home)); !os.IsNotExist(err) {
		t.Fatalf("auth.json should no longer exist, stat err = %v", err)
	}
	if m.HasCredential() {
		t.Fatal("expected no credential cached after logout")
	}
}

func TestAdoptsRotatedRefreshTokenFromDisk(t *testing.T) {
	home := t.TempDir()
	tok := fakeIDToken(t, "pro")

	cachedDoc := &AuthDotJson{
		Tokens: &TokenData{
			IDToken:      tok,
			AccessToken:  "cached-access",
			RefreshToken: "stale-refresh",
		},
	}
	rotated := &AuthDotJson{
		Tokens: &TokenData{
			IDToken:      tok,
			AccessToken:  "rotated-access",
			RefreshToken: "rotated-refresh",
		},
	}
	if err := WriteAuthFile(AuthFilePath(home), rotated); err != nil {
		t.Fatal(err)
	}

	m := &Manager{homeDir: home}
	m.cache = cachedAuth{mode: ModeChatGPT, tokens: cachedDoc.Tokens}

	access, ok := m.adoptFromDisk("stale-refresh")
	if !ok {
		t.Fatal("expected adoption to succeed")
	}
	if access != "rotated-access" {
		t.Fatalf("access = %q, want rotated-access", access)
	}
	if m.cache.tokens.RefreshToken != "rotated-refresh" {
		t.Fatalf("cached refresh token not updated: %+v", m.cache.tokens)
	}
}

func TestAdoptFromDiskNoOpWhenUnchanged(t *testing.T) {
	home := t.TempDir()
	writeAuthFile(t, home, "", "pro")

	m := &Manager{homeDir: home}
	m.cache = cachedAuth{mode: ModeChatGPT, tokens: &TokenData{RefreshToken: "test-refresh-token"}}

	_, ok := m.adoptFromDisk("test-refresh-token")
	if ok {
		t.Fatal("expected no adoption when on-disk refresh token matches stale one")
	}
}

func TestClassifyRefreshFailure(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"invalid_grant", 400, `{"error":"invalid_grant","error_description":"refresh token revoked"}`, true},
		{"invalid_client", 401, `{"error":"invalid_client","error_description":"client mismatch"}`, true},
		{"temporarily_unavailable", 503, `{"error":"temporarily_unavailable","error_description":"please retry"}`, false},
		{"refresh_token_reused", 401, `{"error":{"message":"already used","code":"refresh_token_reused"}}`, false},
		{"five_hundred_no_body", 502, ``, false},
		{"forbidden_no_body", 403, ``, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyRefreshFailure(tc.status, []byte(tc.body))
			if err.IsPermanent() != tc.permanent {
				t.Fatalf("IsPermanent() = %v, want %v (err=%v)", err.IsPermanent(), tc.permanent, err)
			}
		})
	}
}

func TestRefreshTokenReusedIsDetected(t *testing.T) {
	body := `{"error":{"message":"reused","code":"refresh_token_reused"}}`
	err := classifyRefreshFailure(401, []byte(body))
	if !err.IsRefreshTokenReused() {
		t.Fatalf("expected refresh_token_reused to be detected, got %v", err)
	}
}

func TestWriteAuthFileIsAtomicAndPrivate(t *testing.T) {
	home := t.TempDir()
	path := AuthFilePath(home)
	key := "sk-1"
	if err := WriteAuthFile(path, &AuthDotJson{OpenAIAPIKey: &key}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("auth.json perm = %v, want 0600", perm)
	}
	if entries, _ := filepath.Glob(filepath.Join(home, ".auth-*.json.tmp")); len(entries) != 0 {
		t.Fatalf("temp file leaked: %v", entries)
	}
}
