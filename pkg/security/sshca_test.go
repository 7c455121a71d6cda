package security

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func testUserPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate user key: %v", err)
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to wrap user public key: %v", err)
	}
	return pub
}

func TestShellCASignWithinMaxValidity(t *testing.T) {
	ca, err := NewShellCA(8 * time.Hour)
	if err != nil {
		t.Fatalf("NewShellCA() error = %v", err)
	}

	req := &SignRequest{
		UserPublicKey:   testUserPublicKey(t),
		Principals:      []string{"root"},
		ValiditySeconds: int64((4 * time.Hour).Seconds()),
		UserEmail:       "alice@example.com",
		ResourceType:    "machine",
		ResourceID:      "v-1",
	}

	now := time.Unix(1_700_000_000, 0)
	cert, keyID, err := ca.Sign(req, now)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if cert.CertType != ssh.UserCert {
		t.Error("expected a user certificate")
	}
	if got, want := cert.ValidBefore-cert.ValidAfter, uint64((4*time.Hour+time.Minute)/time.Second); got != want {
		t.Errorf("validity window = %d seconds, want %d", got, want)
	}
	if keyID == "" {
		t.Error("expected non-empty key ID")
	}
	if len(cert.ValidPrincipals) != 1 || cert.ValidPrincipals[0] != "root" {
		t.Errorf("unexpected principals: %v", cert.ValidPrincipals)
	}
}

func TestShellCASignRejectsOverMaxValidity(t *testing.T) {
	ca, err := NewShellCA(8 * time.Hour)
	if err != nil {
		t.Fatalf("NewShellCA() error = %v", err)
	}

	req := &SignRequest{
		UserPublicKey:   testUserPublicKey(t),
		Principals:      []string{"root"},
		ValiditySeconds: int64((24 * time.Hour).Seconds()),
		UserEmail:       "alice@example.com",
		ResourceType:    "machine",
		ResourceID:      "v-1",
	}

	if _, _, err := ca.Sign(req, time.Now()); err == nil {
		t.Error("expected an error when validity exceeds the configured maximum")
	}
}

func TestShellCASignRejectsMissingPrincipals(t *testing.T) {
	ca, err := NewShellCA(8 * time.Hour)
	if err != nil {
		t.Fatalf("NewShellCA() error = %v", err)
	}

	req := &SignRequest{
		UserPublicKey:   testUserPublicKey(t),
		Principals:      nil,
		ValiditySeconds: int64((time.Hour).Seconds()),
		UserEmail:       "alice@example.com",
		ResourceType:    "machine",
		ResourceID:      "v-1",
	}

	if _, _, err := ca.Sign(req, time.Now()); err == nil {
		t.Error("expected an error when no principals are requested")
	}
}

func TestShellCADefaultMaxValidity(t *testing.T) {
	ca, err := NewShellCA(0)
	if err != nil {
		t.Fatalf("NewShellCA() error = %v", err)
	}
	if ca.MaxValidity() != DefaultMaxShellValidity {
		t.Errorf("MaxValidity() = %v, want %v", ca.MaxValidity(), DefaultMaxShellValidity)
	}
}

func TestShellCAPublicKey(t *testing.T) {
	ca, err := NewShellCA(time.Hour)
	if err != nil {
		t.Fatalf("NewShellCA() error = %v", err)
	}
	if len(ca.PublicKey()) == 0 {
		t.Error("expected non-empty authorized_keys output")
	}
}
