// Package secrets implements the Secrets capability: a minimal
// path-addressed get/put/delete/list contract any backend (Vault, a
// cloud KMS-backed KV store, or this package's own in-process reference
// implementation) can satisfy. Control depends only on the Store
// interface; MemoryStore exists for tests and single-node deployments.
package secrets

import (
	"strings"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// Store is the capability interface every secrets backend implements.
type Store interface {
	Get(path string) ([]byte, error)
	Put(path string, value []byte) error
	Delete(path string) error
	List(prefix string) ([]string, error)
}

func notFound(path string) error {
	return ferrors.New(ferrors.NotFound, "secret_not_found", "no secret at path "+path)
}

func invalidPath(path string) error {
	return ferrors.New(ferrors.Invalid, "invalid_path", "secret path must not be empty: "+path)
}

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return invalidPath(path)
	}
	return nil
}
