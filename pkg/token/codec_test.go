package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	saerrors "github.com/porthorian/sessionauth/pkg/errors"
	"github.com/porthorian/sessionauth/pkg/identity"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	codec, err := NewCodec(Config{Secret: secret, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec(Config{})
	if !saerrors.IsCode(err, saerrors.CodeIllegalArgument) {
		t.Fatalf("expected illegal argument, got %v", err)
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(t, "secret")
	principal := identity.NewPrincipal(42, "user42", "", nil)

	raw, err := codec.Issue(principal, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if parts := strings.Split(raw, "."); len(parts) != 3 {
		t.Fatalf("expected three-part token, got %q", raw)
	}

	result := codec.Verify(raw)
	if !result.Valid() || result.PrincipalID != 42 {
		t.Fatalf("expected valid(42), got %+v", result)
	}
	if result.ExpiresAt != nil {
		t.Fatal("expected no expiry")
	}
	if result.Error() != nil {
		t.Fatalf("expected nil error for valid token, got %v", result.Error())
	}
}

func TestVerifyExpiredCarriesSubject(t *testing.T) {
	codec := newTestCodec(t, "secret")
	expiresAt := fixedNow.Add(-time.Second)

	raw, err := codec.Issue(identity.NewPrincipal(7, "user7", "", nil), &expiresAt)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result := codec.Verify(raw)
	if result.Status != StatusExpired {
		t.Fatalf("expected expired, got %v", result.Status)
	}
	if result.PrincipalID != 7 {
		t.Fatalf("expected expired result to carry subject 7, got %d", result.PrincipalID)
	}
	if result.ExpiresAt == nil || !result.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, result.ExpiresAt)
	}
	if !saerrors.IsCode(result.Error(), saerrors.CodeTokenExpired) {
		t.Fatalf("expected token_expired, got %v", result.Error())
	}
}

func TestVerifyLeewayAcceptsRecentExpiry(t *testing.T) {
	codec, err := NewCodec(Config{Secret: "secret", Leeway: time.Minute, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	expiresAt := fixedNow.Add(-10 * time.Second)

	raw, err := codec.Issue(identity.NewPrincipal(1, "user1", "", nil), &expiresAt)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if result := codec.Verify(raw); !result.Valid() {
		t.Fatalf("expected leeway to accept token, got %v", result.Status)
	}
}

func TestVerifyForeignSignature(t *testing.T) {
	raw, err := newTestCodec(t, "other").Issue(identity.NewPrincipal(1, "user1", "", nil), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result := newTestCodec(t, "secret").Verify(raw)
	if result.Status != StatusMalformedSignature {
		t.Fatalf("expected malformed signature, got %v", result.Status)
	}
	if result.PrincipalID != 0 {
		t.Fatal("unverified token must not yield a principal id")
	}
	if !saerrors.IsTokenMalformed(result.Error()) {
		t.Fatalf("expected malformed grouping, got %v", result.Error())
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	codec := newTestCodec(t, "secret")
	claims := jwt.RegisteredClaims{Subject: "1", IssuedAt: jwt.NewNumericDate(fixedNow)}

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(DeriveKey("secret"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, raw := range map[string]string{"hs256": hs256, "none": none} {
		t.Run(name, func(t *testing.T) {
			result := codec.Verify(raw)
			if result.Status != StatusUnsupported {
				t.Fatalf("expected unsupported, got %v", result.Status)
			}
			if !saerrors.IsCode(result.Error(), saerrors.CodeTokenUnsupported) {
				t.Fatalf("expected token_unsupported, got %v", result.Error())
			}
		})
	}
}

func TestVerifyRejectsBadSubjects(t *testing.T) {
	codec := newTestCodec(t, "secret")

	for _, subject := range []string{"", "abc", "-1", "1.5"} {
		raw, err := jwt.NewWithClaims(method, jwt.RegisteredClaims{Subject: subject}).SignedString(DeriveKey("secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		result := codec.Verify(raw)
		if result.Status != StatusMalformed {
			t.Fatalf("subject %q: expected malformed, got %v", subject, result.Status)
		}
	}
}

func TestVerifyGarbage(t *testing.T) {
	codec := newTestCodec(t, "secret")

	for _, raw := range []string{"", "not-a-token", "a.b.c", "a.b"} {
		result := codec.Verify(raw)
		if result.Status != StatusMalformed {
			t.Fatalf("%q: expected malformed, got %v", raw, result.Status)
		}
		if !saerrors.IsCode(result.Error(), saerrors.CodeTokenMalformed) {
			t.Fatalf("%q: expected token_malformed, got %v", raw, result.Error())
		}
	}
}

func TestVerifyIssuerMismatch(t *testing.T) {
	issuer, err := NewCodec(Config{Secret: "secret", Issuer: "a"})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	verifier, err := NewCodec(Config{Secret: "secret", Issuer: "b"})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	raw, err := issuer.Issue(identity.NewPrincipal(1, "user1", "", nil), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if result := verifier.Verify(raw); result.Status != StatusMalformed {
		t.Fatalf("expected malformed for issuer mismatch, got %v", result.Status)
	}
}

func TestDeriveKeyEncodesSecret(t *testing.T) {
	secret := "\x00\xffbinary"
	want := base64.StdEncoding.EncodeToString([]byte(secret))
	if got := string(DeriveKey(secret)); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
