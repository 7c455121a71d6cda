package security

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"golang.org/x/crypto/ssh"
)

const (
	// sshCAKeySize is the bit length of the SSH CA signing key.
	sshCAKeySize = 4096

	// DefaultMaxShellValidity is the default ceiling on a requested
	// certificate's validity window when the caller does not configure one.
	DefaultMaxShellValidity = 8 * time.Hour
)

// ShellCA signs short-lived SSH user certificates for interactive shell
// sessions. Unlike CertAuthority it signs public keys the caller already
// holds a private key for; it never generates or stores per-user keys.
type ShellCA struct {
	signer      ssh.Signer
	pub         ssh.PublicKey
	maxValidity time.Duration
	mu          sync.RWMutex
}

// NewShellCA generates a fresh SSH CA keypair. maxValidity of zero selects
// DefaultMaxShellValidity.
func NewShellCA(maxValidity time.Duration) (*ShellCA, error) {
	if maxValidity <= 0 {
		maxValidity = DefaultMaxShellValidity
	}

	key, err := rsa.GenerateKey(rand.Reader, sshCAKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSH CA key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH CA signer: %w", err)
	}

	return &ShellCA{
		signer:      signer,
		pub:         signer.PublicKey(),
		maxValidity: maxValidity,
	}, nil
}

// SignRequest describes a requested shell certificate.
type SignRequest struct {
	UserPublicKey   ssh.PublicKey
	Principals      []string
	ValiditySeconds int64
	UserEmail       string
	ResourceType    string
	ResourceID      string
}

// Sign issues a signed SSH user certificate for req, enforcing the
// configured maximum validity window. The caller is responsible for
// checking that req.Principals is a subset of the requester's allowed
// principals for the resource before calling Sign.
func (ca *ShellCA) Sign(req *SignRequest, now time.Time) (*ssh.Certificate, string, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if req.ValiditySeconds <= 0 {
		return nil, "", ferrors.New(ferrors.Invalid, "invalid_validity", "validity_seconds must be positive")
	}
	requested := time.Duration(req.ValiditySeconds) * time.Second
	if requested > ca.maxValidity {
		return nil, "", ferrors.New(ferrors.Invalid, "validity_exceeds_maximum", "validity exceeds maximum")
	}
	if len(req.Principals) == 0 {
		return nil, "", ferrors.New(ferrors.Invalid, "no_principals", "at least one principal is required")
	}

	validAfter := now.Add(-time.Minute)
	validBefore := now.Add(requested)
	keyID := fmt.Sprintf("%s@%s-%d", req.UserEmail, req.ResourceID, now.Unix())

	cert := &ssh.Certificate{
		Key:             req.UserPublicKey,
		Serial:          uint64(now.UnixNano()),
		CertType:        ssh.UserCert,
		KeyId:           keyID,
		ValidPrincipals: req.Principals,
		ValidAfter:      uint64(validAfter.Unix()),
		ValidBefore:     uint64(validBefore.Unix()),
		Permissions: ssh.Permissions{
			Extensions: map[string]string{
				"permit-pty":              "",
				"permit-user-rc":          "",
				"permit-port-forwarding":  "",
				"permit-agent-forwarding": "",
			},
		},
	}

	if err := cert.SignCert(rand.Reader, ca.signer); err != nil {
		return nil, "", fmt.Errorf("failed to sign SSH certificate: %w", err)
	}

	return cert, keyID, nil
}

// PublicKey returns the CA's public key in authorized_keys format, suitable
// for distribution to machines as a TrustedUserCAKeys entry.
func (ca *ShellCA) PublicKey() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ssh.MarshalAuthorizedKey(ca.pub)
}

// MaxValidity returns the configured ceiling on certificate validity.
func (ca *ShellCA) MaxValidity() time.Duration {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.maxValidity
}
