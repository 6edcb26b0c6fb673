package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by Decode for any credential whose payload cannot be
// read as a JSON object with a numeric expiry.
var ErrMalformed = errors.New("malformed credential")

// decoder accepts both raw and padded base64url payload segments.
var decoder = jwt.NewParser(jwt.WithPaddingAllowed())

// Payload is the decoded middle segment of a credential.
type Payload struct {
	Subject     string
	DisplayName string
	Email       string
	ExpiresAt   time.Time
	Claims      jwt.MapClaims
}

// Expired reports whether the payload expiry is at or before now, compared at
// millisecond precision.
func (p Payload) Expired(now time.Time) bool {
	return p.ExpiresAt.UnixMilli() <= now.UnixMilli()
}

// Decode splits the credential and parses its payload segment.
//
// Decode is total: malformed input of any shape yields an error wrapping
// [ErrMalformed] and never panics.
func Decode(token string) (Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 3 {
		return Payload{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	raw, err := decoder.DecodeSegment(parts[1])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: payload encoding: %v", ErrMalformed, err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Payload{}, fmt.Errorf("%w: payload json: %v", ErrMalformed, err)
	}

	expMillis, err := expiryMillis(claims)
	if err != nil {
		return Payload{}, err
	}

	p := Payload{
		Subject:   subject(claims["sub"]),
		Email:     stringClaim(claims, "email"),
		ExpiresAt: time.UnixMilli(expMillis),
		Claims:    claims,
	}
	p.DisplayName = stringClaim(claims, "username")
	if p.DisplayName == "" {
		p.DisplayName = p.Email
	}
	return p, nil
}

// IsLive reports whether token decodes and its expiry is strictly after now.
// It has no side effects and is safe to call on every read.
func IsLive(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	p, err := Decode(token)
	if err != nil {
		return false
	}
	return !p.Expired(now)
}

// Expiry bounds in milliseconds. Both survive the time.UnixMilli round trip
// that Payload.Expired relies on.
const (
	maxExpiryMillis = math.MaxInt64
	minExpiryMillis = math.MinInt64 / 2
)

// expiryMillis reads the exp claim as fractional seconds and returns the
// smallest whole millisecond not before it, so that ExpiresAt > now holds
// exactly when exp*1000 > now in milliseconds. Out-of-range values clamp.
func expiryMillis(claims jwt.MapClaims) (int64, error) {
	var secs float64
	switch v := claims["exp"].(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing exp", ErrMalformed)
	case float64:
		secs = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
		}
		secs = f
	default:
		return 0, fmt.Errorf("%w: exp is %T, want a number", ErrMalformed, v)
	}
	if math.IsNaN(secs) {
		return 0, fmt.Errorf("%w: exp is not a number", ErrMalformed)
	}

	ms := math.Ceil(secs * 1000)
	switch {
	case ms >= maxExpiryMillis:
		return maxExpiryMillis, nil
	case ms <= minExpiryMillis:
		return minExpiryMillis, nil
	}
	return int64(ms), nil
}

func subject(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
