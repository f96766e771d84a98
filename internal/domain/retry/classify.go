package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const rateLimitBuffer = 5 * time.Second

// permanentProviderCodes are always Fatal regardless of status code.
// "insufficient_quota" is the code the provider actually emits on a
// response.failed stream event; "quota_exceeded" is kept as a synonym
// seen from older backends.
var permanentProviderCodes = map[string]bool{
	"insufficient_quota": true,
	"quota_exceeded":     true,
	"usage_not_included": true,
}

// Classify maps a failed attempt's error into a Verdict. now is
// injected for testability.
func Classify(err error, now time.Time) Verdict {
	if err == nil {
		return Verdict{Kind: KindFatal, Reason: "classify called with nil error"}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Kind: KindAborted, Reason: "cancelled"}
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return classifyProvider(perr, now)
	}

	var terr *TransportError
	if errors.As(err, &terr) {
		return Verdict{Kind: KindRetryAfterBackoff, Reason: "transport error: " + terr.Error()}
	}

	// Unclassified errors are treated as transport-level: retry.
	return Verdict{Kind: KindRetryAfterBackoff, Reason: "transport error: " + err.Error()}
}

func classifyProvider(perr *ProviderError, now time.Time) Verdict {
	if perr.PermanentAuthRefresh {
		return Verdict{Kind: KindFatal, Reason: "auth refresh permanent failure", Err: perr}
	}
	if permanentProviderCodes[perr.Code] {
		return Verdict{Kind: KindFatal, Reason: "provider fatal: " + perr.Code, Err: perr}
	}

	if perr.Code == "usage_limit_reached" && perr.ResetsInSeconds != nil {
		return rateLimitedVerdict(time.Duration(*perr.ResetsInSeconds*float64(time.Second)), now, "usage limit reached")
	}

	switch perr.StatusCode {
	case 408, 499:
		return Verdict{Kind: KindRetryAfterBackoff, Reason: "transport-like status"}
	case 429:
		return classify429(perr, now)
	}
	if perr.StatusCode >= 500 && perr.StatusCode < 600 {
		return Verdict{Kind: KindRetryAfterBackoff, Reason: "server error"}
	}
	if perr.StatusCode >= 400 && perr.StatusCode < 500 {
		return Verdict{Kind: KindFatal, Reason: "client error", Err: perr}
	}
	// No status code at all; treat like a transport failure.
	if perr.StatusCode == 0 {
		return Verdict{Kind: KindRetryAfterBackoff, Reason: "transport error"}
	}
	return Verdict{Kind: KindFatal, Reason: "unclassified provider error", Err: perr}
}

// classify429 implements the header-wins-over-body-hint precedence rule.
func classify429(perr *ProviderError, now time.Time) Verdict {
	if perr.Headers != nil {
		if v := perr.Headers.Get("Retry-After"); v != "" {
			if d, ok := ParseRetryAfterHeader(v, now); ok {
				return rateLimitedVerdict(d, now, "rate limited (header)")
			}
		}
	}
	if perr.ResetsInSeconds != nil {
		return rateLimitedVerdict(time.Duration(*perr.ResetsInSeconds*float64(time.Second)), now, "rate limited (resets_in_seconds)")
	}
	if d, ok := ParseBodyHint(perr.Message); ok {
		return rateLimitedVerdict(d, now, "rate limited (body hint)")
	}
	return Verdict{Kind: KindRetryAfterBackoff, Reason: "rate limited without hint"}
}

// rateLimitedVerdict applies the 5s buffer and uniform jitter(0..3s)
// on top of any parsed hint.
func rateLimitedVerdict(hint time.Duration, now time.Time, reason string) Verdict {
	if hint < 0 {
		hint = 0
	}
	jitter := time.Duration(rand.Int63n(int64(3 * time.Second)))
	return Verdict{
		Kind:      KindRateLimited,
		Reason:    reason,
		WaitUntil: now.Add(hint + rateLimitBuffer + jitter),
	}
}
