package manager

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/raft"
)

// tlsStreamLayer implements raft.StreamLayer over mutual TLS, so every
// Raft RPC between Control nodes (AppendEntries, RequestVote, snapshot
// installs) is encrypted and authenticated with the certificates
// pkg/security's CertAuthority issues. Both ends present a certificate;
// both ends verify the peer's certificate against the cluster CA, so an
// attacker on the LAN cannot join the Raft ring or read its traffic
// without the CA-issued cert.
type tlsStreamLayer struct {
	listener net.Listener
	config   *tls.Config
}

// raftTLSConfig builds the mutual-TLS config shared by a Control node's
// Raft listener and dialer: it presents cert and requires/verifies the
// peer's certificate against caCert.
func raftTLSConfig(cert *tls.Certificate, caCert *x509.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

func newTLSStreamLayer(bindAddr string, cert *tls.Certificate, caCert *x509.Certificate) (*tlsStreamLayer, error) {
	config := raftTLSConfig(cert, caCert)

	ln, err := tls.Listen("tcp", bindAddr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for raft TLS transport: %w", err)
	}

	return &tlsStreamLayer{listener: ln, config: config}, nil
}

func (t *tlsStreamLayer) Accept() (net.Conn, error) { return t.listener.Accept() }

func (t *tlsStreamLayer) Close() error { return t.listener.Close() }

func (t *tlsStreamLayer) Addr() net.Addr { return t.listener.Addr() }

func (t *tlsStreamLayer) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(dialer, "tcp", string(address), t.config)
}
