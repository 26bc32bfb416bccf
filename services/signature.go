package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature          = "X-Signature"
	HeaderSignatureTimestamp = "X-Signature-Ts"

	DefaultSignatureTolerance = 300 * time.Second
)

var (
	ErrSignatureMissing  = errors.New("missing body, signature or timestamp")
	ErrTimestampInvalid  = errors.New("timestamp is not a unix time")
	ErrTimestampExpired  = errors.New("timestamp outside the replay window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// SignatureValidator checks HMAC-SHA256(secret, timestamp || body) signatures.
// It is safe for concurrent use.
type SignatureValidator struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureValidator(secret string, tolerance time.Duration) *SignatureValidator {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureValidator{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for the replay window.
func (v *SignatureValidator) WithClock(now func() time.Time) *SignatureValidator {
	v.now = now
	return v
}

// Verify returns nil when the signature is authentic and fresh, or the reason
// it is not.
func (v *SignatureValidator) Verify(body []byte, signature, timestamp string) error {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if len(body) == 0 || signature == "" || timestamp == "" {
		return ErrSignatureMissing
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.tolerance {
		return ErrTimestampExpired
	}

	if len(v.secret) == 0 {
		return ErrSignatureMismatch
	}
	expected := v.Sign(body, timestamp)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// Validate is Verify reduced to a yes/no answer.
func (v *SignatureValidator) Validate(body []byte, signature, timestamp string) bool {
	return v.Verify(body, signature, timestamp) == nil
}

// Sign returns the lowercase hex signature for body at timestamp.
func (v *SignatureValidator) Sign(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
