package auth

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

const secretSize = 32

// LoadOrCreateSecret reads <dataRoot>/token_secret, generating and
// atomically persisting a fresh 32-byte secret on first run. It warns if an
// existing secret file is more permissive than owner-only.
func LoadOrCreateSecret(dataRoot string, log *logrus.Entry) ([]byte, error) {
	path := filepath.Join(dataRoot, "token_secret")

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if fi, statErr := os.Stat(path); statErr == nil {
			if fi.Mode().Perm()&0o077 != 0 {
				log.WithField("path", path).Warn("token_secret has group/other permissions; expected 0600")
			}
		}
		if len(b) != secretSize {
			return nil, trace.BadParameter("token_secret at %s is %d bytes, want %d", path, len(b), secretSize)
		}
		return b, nil

	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dataRoot, 0o700); mkErr != nil {
			return nil, trace.ConvertSystemError(mkErr)
		}
		secret := make([]byte, secretSize)
		if _, rErr := rand.Read(secret); rErr != nil {
			return nil, trace.Wrap(rErr, "generating token secret")
		}
		if wErr := renameio.WriteFile(path, secret, 0o600); wErr != nil {
			return nil, trace.Wrap(wErr, "persisting token secret")
		}
		log.WithField("path", path).Info("generated new token secret")
		return secret, nil

	default:
		return nil, trace.ConvertSystemError(err)
	}
}
