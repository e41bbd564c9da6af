package backup

import (
	"fmt"
	"os"
)

const (
	credLen    = 16
	credMinLen = 6

	// EnvKey and EnvIV hold the encryption material for backup archives.
	EnvKey = "GEN_DEV_BACKUP_KEY"
	EnvIV  = "GEN_DEV_BACKUP_IV"
)

// Creds is the AES key/IV pair used to encrypt backup archives.
type Creds struct {
	Key []byte
	IV  []byte
}

// pad right-pads the value with zeros up to the credential length.
func pad(v string) []byte {
	b := make([]byte, credLen)
	copy(b, v)
	for i := len(v); i < credLen; i++ {
		b[i] = '0'
	}
	return b
}

// CredsFromEnv reads and validates the key and IV from the environment.
// Values must be 6 to 16 bytes and are zero-padded to 16.
func CredsFromEnv() (*Creds, error) {
	key := os.Getenv(EnvKey)
	iv := os.Getenv(EnvIV)

	if key == "" || iv == "" {
		return nil, fmt.Errorf("define environment variables %s and %s", EnvKey, EnvIV)
	}

	for name, v := range map[string]string{EnvKey: key, EnvIV: iv} {
		if len(v) < credMinLen || len(v) > credLen {
			return nil, fmt.Errorf("%s must be between %d and %d bytes", name, credMinLen, credLen)
		}
	}

	return &Creds{Key: pad(key), IV: pad(iv)}, nil
}
