// Package identity manages the client's device identity.
//
// A device identity is an Ed25519 keypair plus a content-addressed device id:
// the lowercase-hex SHA-256 digest of the raw 32-byte public key. The gateway
// learns the public key during pairing and verifies signed handshake payloads
// against it on every subsequent connection.
//
// Key material is stored as unpadded base64url of the raw 32-byte values
// (seed for the private key). The device id is always derivable from the
// public key, so a corrupted id can be repaired without touching the keys.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	clierrors "github.com/clawline/clawline/internal/errors"
)

// Version is the current identity record version.
const Version = 1

// Identity is a device keypair with its derived device id.
type Identity struct {
	// Version of the identity record format.
	Version int `json:"version"`

	// DeviceID is hex(sha256(raw public key)), always lowercase.
	DeviceID string `json:"deviceId"`

	// PublicKey is the unpadded base64url encoding of the raw 32-byte
	// Ed25519 public key.
	PublicKey string `json:"publicKey"`

	// PrivateKey is the unpadded base64url encoding of the raw 32-byte
	// Ed25519 seed.
	PrivateKey string `json:"privateKey"`

	// CreatedAtMs is the creation time in Unix milliseconds.
	CreatedAtMs int64 `json:"createdAtMs"`
}

// timeNow is swapped in tests for deterministic timestamps.
var timeNow = time.Now

// Generate creates a fresh device identity from a random Ed25519 seed.
// Fails only if the system randomness source is unavailable.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, clierrors.Wrap(clierrors.CodeIdentityGenerateFailed, "generate keypair", err)
	}

	return &Identity{
		Version:     Version,
		DeviceID:    DeriveDeviceID(pub),
		PublicKey:   base64.RawURLEncoding.EncodeToString(pub),
		PrivateKey:  base64.RawURLEncoding.EncodeToString(priv.Seed()),
		CreatedAtMs: timeNow().UnixMilli(),
	}, nil
}

// DeriveDeviceID computes the device id for a raw public key.
func DeriveDeviceID(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Validate checks the deviceId-matches-publicKey invariant. If the stored id
// is stale it returns a repaired copy with the id recomputed from the public
// key (keys and creation time preserved) and repaired=true. The caller should
// log and re-persist a repaired identity; it is not an error condition.
// The public key itself being undecodable is an error.
func Validate(id *Identity) (*Identity, bool, error) {
	pub, err := base64.RawURLEncoding.DecodeString(id.PublicKey)
	if err != nil {
		return nil, false, clierrors.Wrap(clierrors.CodeIdentityInvalidKey, "decode public key", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, false, clierrors.New(clierrors.CodeIdentityInvalidKey,
			fmt.Sprintf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize))
	}

	want := DeriveDeviceID(pub)
	if id.DeviceID == want {
		return id, false, nil
	}

	repaired := *id
	repaired.DeviceID = want
	return &repaired, true, nil
}

// AuthPayloadParams are the inputs to BuildAuthPayload. The field order of
// the serialized payload is fixed; scopes are joined in the order given and
// never sorted, since reordering changes the signed bytes.
type AuthPayloadParams struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string // empty when no bearer token is presented
	Nonce      string
}

// BuildAuthPayload serializes the handshake fields into the exact
// pipe-delimited string that gets signed:
//
//	v2|deviceId|clientId|clientMode|role|scope1,scope2|signedAtMs|token|nonce
//
// The gateway rebuilds this string from the connect params and verifies the
// signature over it, so any deviation here breaks authentication.
func BuildAuthPayload(p AuthPayloadParams) string {
	fields := []string{
		"v2",
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.Token,
		p.Nonce,
	}
	return strings.Join(fields, "|")
}

// Sign signs the UTF-8 bytes of payload with the identity's private key and
// returns the unpadded base64url signature. Ed25519 signing is deterministic,
// so the same payload and key always produce the same signature.
func (id *Identity) Sign(payload string) (string, error) {
	seed, err := base64.RawURLEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return "", clierrors.Wrap(clierrors.CodeIdentitySignFailed, "decode private key", err)
	}
	if len(seed) != ed25519.SeedSize {
		return "", clierrors.New(clierrors.CodeIdentitySignFailed,
			fmt.Sprintf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(priv, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(sig), nil
}
