package signature

import (
	"testing"
	"time"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := []byte(`{"eventId":"evt_1","eventType":"invoice.created"}`)
	secret := []byte("0123456789abcdef")

	sig := Sign(payload, secret)
	if sig == "" {
		t.Fatal("Sign returned empty signature")
	}
	if !Verify(payload, secret, sig) {
		t.Error("Verify rejected a freshly computed signature")
	}
}

func TestVerify_RejectsMutations(t *testing.T) {
	payload := []byte(`{"eventId":"evt_1"}`)
	secret := []byte("0123456789abcdef")
	sig := Sign(payload, secret)

	t.Run("mutated payload", func(t *testing.T) {
		bad := append([]byte{}, payload...)
		bad[0] ^= 0x01
		if Verify(bad, secret, sig) {
			t.Error("Verify accepted mutated payload")
		}
	})

	t.Run("mutated secret", func(t *testing.T) {
		bad := append([]byte{}, secret...)
		bad[0] ^= 0x01
		if Verify(payload, bad, sig) {
			t.Error("Verify accepted mutated secret")
		}
	})

	t.Run("mutated signature", func(t *testing.T) {
		bad := []byte(sig)
		if bad[0] == 'a' {
			bad[0] = 'b'
		} else {
			bad[0] = 'a'
		}
		if Verify(payload, secret, string(bad)) {
			t.Error("Verify accepted mutated signature")
		}
	})

	t.Run("non-hex signature", func(t *testing.T) {
		if Verify(payload, secret, "not-hex!") {
			t.Error("Verify accepted non-hex signature")
		}
	})
}

func TestSign_Deterministic(t *testing.T) {
	payload := []byte("same bytes")
	secret := []byte("0123456789abcdef")
	if Sign(payload, secret) != Sign(payload, secret) {
		t.Error("Sign is not deterministic for identical inputs")
	}
}

func TestVerifyAt_WithinTolerance(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	secret := []byte("0123456789abcdef")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := SignAt(payload, secret, ts)

	if !VerifyAt(payload, secret, sig, ts, ts.Add(2*time.Minute), 5*time.Minute) {
		t.Error("VerifyAt rejected signature within tolerance")
	}
	if !VerifyAt(payload, secret, sig, ts, ts.Add(-2*time.Minute), 5*time.Minute) {
		t.Error("VerifyAt rejected signature with negative skew within tolerance")
	}
}

func TestVerifyAt_RejectsOutsideTolerance(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	secret := []byte("0123456789abcdef")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := SignAt(payload, secret, ts)

	// HMAC is valid, timestamp is not: must still be rejected.
	if VerifyAt(payload, secret, sig, ts, ts.Add(6*time.Minute), 5*time.Minute) {
		t.Error("VerifyAt accepted signature outside tolerance")
	}
}

func TestVerifyAt_DefaultTolerance(t *testing.T) {
	payload := []byte("x")
	secret := []byte("0123456789abcdef")
	ts := time.Now()
	sig := SignAt(payload, secret, ts)

	if !VerifyAt(payload, secret, sig, ts, ts.Add(4*time.Minute), 0) {
		t.Error("VerifyAt with zero tolerance should fall back to the 5 minute default")
	}
	if VerifyAt(payload, secret, sig, ts, ts.Add(6*time.Minute), 0) {
		t.Error("VerifyAt accepted signature beyond the default tolerance")
	}
}

func TestSignAt_BindsTimestamp(t *testing.T) {
	payload := []byte("x")
	secret := []byte("0123456789abcdef")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig := SignAt(payload, secret, ts)
	if VerifyAt(payload, secret, sig, ts.Add(time.Minute), ts, 5*time.Minute) {
		t.Error("signature verified against a different timestamp")
	}
}
