package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Default tolerance for timestamped signatures.
const signatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp too old")
)

// VerifyStripeSignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex hmac>" against the raw payload. The signed message is
// "<t>.<payload>" with HMAC-SHA256 over the endpoint secret.
func VerifyStripeSignature(payload []byte, header, secret string) error {
	if secret == "" {
		return errors.New("secret is required for signature verification")
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if time.Since(time.Unix(unix, 0)) > signatureTolerance {
		return ErrStaleSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// VerifyHMACSHA512 checks a plain hex HMAC-SHA512 of the payload, the scheme
// crypto invoice IPN callbacks use.
func VerifyHMACSHA512(payload []byte, signature, secret string) error {
	if secret == "" {
		return errors.New("secret is required for signature verification")
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}
