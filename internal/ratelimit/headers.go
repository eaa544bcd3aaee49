package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luciancaetano/kephascord"
)

// Rate-limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// Rate-limit scopes reported on 429 responses.
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
	ScopeShared = "shared"
)

// RateLimitInfo is the rate-limit contract carried by a response.
type RateLimitInfo struct {
	Bucket       string
	Limit        int
	Remaining    int
	HasRemaining bool
	ResetAfter   time.Duration
	Reset        time.Time
	Global       bool
	Scope        string
	// RetryAfter is only set on 429 responses.
	RetryAfter time.Duration
}

// ResetAt returns the absolute reset deadline, preferring the relative header.
func (i RateLimitInfo) ResetAt(now time.Time) time.Time {
	if i.ResetAfter > 0 {
		return now.Add(i.ResetAfter)
	}
	return i.Reset
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
	Code       int     `json:"code"`
}

// ParseRateLimit extracts the rate-limit contract from a response.
func ParseRateLimit(resp *kephascord.Response) RateLimitInfo {
	h := resp.Header
	if h == nil {
		h = http.Header{}
	}

	info := RateLimitInfo{
		Bucket: h.Get(HeaderBucket),
		Global: strings.EqualFold(h.Get(HeaderGlobal), "true"),
		Scope:  h.Get(HeaderScope),
	}

	if v, err := strconv.Atoi(h.Get(HeaderLimit)); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(h.Get(HeaderRemaining)); err == nil {
		info.Remaining = v
		info.HasRemaining = true
	}
	if v, ok := parseSeconds(h.Get(HeaderResetAfter)); ok {
		info.ResetAfter = v
	}
	if v, err := strconv.ParseFloat(h.Get(HeaderReset), 64); err == nil && v > 0 {
		sec, frac := math.Modf(v)
		info.Reset = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		return info
	}

	var body rateLimitBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.RetryAfter > 0 {
			info.RetryAfter = time.Duration(body.RetryAfter * float64(time.Second))
		}
		info.Global = info.Global || body.Global
	}
	if info.RetryAfter == 0 {
		if v, ok := parseSeconds(h.Get(HeaderRetryAfter)); ok {
			info.RetryAfter = v
		}
	}
	if info.Scope == ScopeGlobal {
		info.Global = true
	}
	return info
}

func parseSeconds(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}
