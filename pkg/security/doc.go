/*
Package security holds everything cryptographic that isn't Raft itself:
a root CertAuthority issuing node/client TLS certificates for internal
transport, an AES-GCM SecretsManager for at-rest encryption of stored
secrets (pkg/manager keys it off the node ID via DeriveKeyFromClusterID), and
ShellCA, a separate SSH certificate authority used only to sign
short-lived certificates for interactive agent shell sessions (see
pkg/agent.ShellSigner).

	ca := security.NewCertAuthority(store)
	ca.Initialize()
	cert, _ := ca.IssueNodeCertificate(nodeID, "control", dnsNames, ips)

	sm, _ := security.NewSecretsManagerFromPassword(passphrase)
	ciphertext, _ := sm.EncryptSecret(plaintext)

	shellCA, _ := security.NewShellCA(time.Hour)
	cert, keyID, _ := shellCA.Sign(&security.SignRequest{...}, time.Now())

certs.go holds the on-disk certificate file conventions (GetCertDir,
Save/LoadCertFromFile, rotation checks) a node's TLS material is
persisted under between restarts.
*/
package security
