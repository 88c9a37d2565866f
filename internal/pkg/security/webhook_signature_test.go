package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signStripe(t *testing.T, payload []byte, secret string, ts int64) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test"
	header := signStripe(t, payload, secret, time.Now().Unix())

	require.NoError(t, VerifyStripeSignature(payload, header, secret))
}

func TestVerifyStripeSignatureWrongSecret(t *testing.T) {
	t.Parallel()

	payload := []byte(`{}`)
	header := signStripe(t, payload, "whsec_other", time.Now().Unix())

	err := VerifyStripeSignature(payload, header, "whsec_test")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyStripeSignatureTamperedPayload(t *testing.T) {
	t.Parallel()

	secret := "whsec_test"
	header := signStripe(t, []byte(`{"amount":100}`), secret, time.Now().Unix())

	err := VerifyStripeSignature([]byte(`{"amount":999999}`), header, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyStripeSignatureStaleTimestamp(t *testing.T) {
	t.Parallel()

	payload := []byte(`{}`)
	secret := "whsec_test"
	header := signStripe(t, payload, secret, time.Now().Add(-10*time.Minute).Unix())

	err := VerifyStripeSignature(payload, header, secret)
	assert.ErrorIs(t, err, ErrStaleSignature)
}

func TestVerifyStripeSignatureMalformedHeader(t *testing.T) {
	t.Parallel()

	secret := "whsec_test"
	for _, header := range []string{
		"",
		"garbage",
		"t=not-a-number,v1=abc",
		"v1=deadbeef",                              // no timestamp
		fmt.Sprintf("t=%d", time.Now().Unix()),     // no signature
	} {
		err := VerifyStripeSignature([]byte(`{}`), header, secret)
		assert.ErrorIs(t, err, ErrInvalidSignature, "header=%q", header)
	}
}

// A header may carry several v1 entries during secret rotation; one match is
// enough.
func TestVerifyStripeSignatureMultipleV1(t *testing.T) {
	t.Parallel()

	payload := []byte(`{}`)
	secret := "whsec_test"
	ts := time.Now().Unix()
	good := signStripe(t, payload, secret, ts)
	v1 := strings.SplitN(good, "v1=", 2)[1]
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", ts, strings.Repeat("0", 64), v1)

	require.NoError(t, VerifyStripeSignature(payload, header, secret))
}

func TestVerifyStripeSignatureRequiresSecret(t *testing.T) {
	t.Parallel()

	err := VerifyStripeSignature([]byte(`{}`), "t=1,v1=abc", "")
	require.Error(t, err)
}

func TestVerifyHMACSHA512(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"payment_id":55,"payment_status":"finished"}`)
	secret := "ipn_secret"

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, VerifyHMACSHA512(payload, sig, secret))

	// uppercase hex and surrounding whitespace are tolerated
	require.NoError(t, VerifyHMACSHA512(payload, "  "+strings.ToUpper(sig)+" ", secret))

	assert.ErrorIs(t, VerifyHMACSHA512(payload, sig, "wrong"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHMACSHA512([]byte(`{}`), sig, secret), ErrInvalidSignature)
	require.Error(t, VerifyHMACSHA512(payload, sig, ""))
}
