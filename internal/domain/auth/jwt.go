package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanEnterprise is the only plan string that forces ApiKey mode even
// when the auth.json has refreshable tokens present.
const PlanEnterprise = "enterprise"

type idTokenAuthClaims struct {
	ChatGPTPlanType string `json:"chatgpt_plan_type"`
}

type idTokenPayload struct {
	Email string            `json:"email"`
	Auth  idTokenAuthClaims `json:"https://api.openai.com/auth"`
}

// ParseIDTokenPlan extracts the chatgpt_plan_type claim from an
// unverified JWT id_token. The coordinator never uses this token for
// authorization decisions of its own; it only reads the plan string
// to pick ApiKey vs ChatGPT mode.
func ParseIDTokenPlan(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("auth: malformed id_token (want 3 segments, got %d)", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("auth: decode id_token payload: %w", err)
	}
	var claims idTokenPayload
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("auth: unmarshal id_token payload: %w", err)
	}
	return claims.Auth.ChatGPTPlanType, nil
}
