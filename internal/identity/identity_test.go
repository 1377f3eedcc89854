package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerate_DeviceIDMatchesPublicKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if id.Version != Version {
		t.Errorf("Version = %d, want %d", id.Version, Version)
	}
	if id.CreatedAtMs == 0 {
		t.Error("CreatedAtMs should be set")
	}

	pub, err := base64.RawURLEncoding.DecodeString(id.PublicKey)
	if err != nil {
		t.Fatalf("public key is not valid base64url: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		t.Fatalf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}

	sum := sha256.Sum256(pub)
	want := hex.EncodeToString(sum[:])
	if id.DeviceID != want {
		t.Errorf("DeviceID = %q, want hex(sha256(publicKey)) = %q", id.DeviceID, want)
	}
}

func TestValidate_ConsistentIdentityUnchanged(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	got, repaired, err := Validate(id)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if repaired {
		t.Error("Validate() should not repair a consistent identity")
	}
	if got != id {
		t.Error("Validate() should return the same identity when consistent")
	}
}

func TestValidate_RepairsTamperedDeviceID(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	tampered := *id
	tampered.DeviceID = "deadbeef"

	got, repaired, err := Validate(&tampered)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !repaired {
		t.Error("Validate() should report the identity as repaired")
	}
	if got.DeviceID != id.DeviceID {
		t.Errorf("repaired DeviceID = %q, want %q", got.DeviceID, id.DeviceID)
	}

	// Keys and creation time are preserved, never recomputed.
	if got.PublicKey != id.PublicKey {
		t.Error("repair must preserve the public key")
	}
	if got.PrivateKey != id.PrivateKey {
		t.Error("repair must preserve the private key")
	}
	if got.CreatedAtMs != id.CreatedAtMs {
		t.Error("repair must preserve the creation time")
	}

	// The tampered input is not mutated.
	if tampered.DeviceID != "deadbeef" {
		t.Error("Validate() should not mutate its input")
	}
}

func TestValidate_RejectsBadPublicKey(t *testing.T) {
	id := &Identity{
		Version:   Version,
		DeviceID:  "whatever",
		PublicKey: "not*base64url*",
	}
	if _, _, err := Validate(id); err == nil {
		t.Error("Validate() should fail on an undecodable public key")
	}

	id.PublicKey = base64.RawURLEncoding.EncodeToString([]byte("short"))
	if _, _, err := Validate(id); err == nil {
		t.Error("Validate() should fail on a wrong-length public key")
	}
}

func basePayloadParams() AuthPayloadParams {
	return AuthPayloadParams{
		DeviceID:   "dev-1",
		ClientID:   "clawline",
		ClientMode: "cli",
		Role:       "operator",
		Scopes:     []string{"operator.read", "operator.write"},
		SignedAtMs: 1700000000000,
		Token:      "tok-1",
		Nonce:      "nonce-1",
	}
}

func TestBuildAuthPayload_Format(t *testing.T) {
	got := BuildAuthPayload(basePayloadParams())
	want := "v2|dev-1|clawline|cli|operator|operator.read,operator.write|1700000000000|tok-1|nonce-1"
	if got != want {
		t.Errorf("BuildAuthPayload() = %q, want %q", got, want)
	}
}

func TestBuildAuthPayload_ScopeOrderPreserved(t *testing.T) {
	p := basePayloadParams()

	p.Scopes = []string{"a", "b"}
	ab := BuildAuthPayload(p)
	p.Scopes = []string{"b", "a"}
	ba := BuildAuthPayload(p)

	if ab == ba {
		t.Error("payloads with reordered scopes must differ")
	}
	if !strings.Contains(ab, "a,b") {
		t.Errorf("payload %q should contain scopes in given order %q", ab, "a,b")
	}
	if !strings.Contains(ba, "b,a") {
		t.Errorf("payload %q should contain scopes in given order %q", ba, "b,a")
	}
}

func TestBuildAuthPayload_EmptyToken(t *testing.T) {
	p := basePayloadParams()
	p.Token = ""
	got := BuildAuthPayload(p)

	if strings.Contains(got, "tok-1") {
		t.Error("payload should not contain a token when none is set")
	}
	for _, field := range []string{"dev-1", "clawline", "cli", "operator", "1700000000000", "nonce-1"} {
		if !strings.Contains(got, field) {
			t.Errorf("payload %q should still contain %q", got, field)
		}
	}

	// Empty token leaves adjacent delimiters in place.
	if !strings.Contains(got, "|1700000000000||nonce-1") {
		t.Errorf("payload %q should keep the empty token field position", got)
	}
}

func TestSign_Deterministic(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	payload := BuildAuthPayload(basePayloadParams())

	sig1, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	sig2, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if sig1 != sig2 {
		t.Error("signing the same payload twice should yield identical signatures")
	}

	other, err := id.Sign(payload + "x")
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if other == sig1 {
		t.Error("different payloads should yield different signatures")
	}
}

func TestSign_VerifiesAgainstPublicKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	payload := "v2|x|y|z"
	sig, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	pub, err := base64.RawURLEncoding.DecodeString(id.PublicKey)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not valid base64url: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), raw) {
		t.Error("signature should verify against the identity's public key")
	}
}

func TestSign_RejectsBadPrivateKey(t *testing.T) {
	id := &Identity{PrivateKey: "***"}
	if _, err := id.Sign("payload"); err == nil {
		t.Error("Sign() should fail on an undecodable private key")
	}

	id.PrivateKey = base64.RawURLEncoding.EncodeToString([]byte("short"))
	if _, err := id.Sign("payload"); err == nil {
		t.Error("Sign() should fail on a wrong-length seed")
	}
}
