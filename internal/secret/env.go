package secret

import (
	"os"
	"strings"
)

// EnvStore implements SecretStore over process environment variables. The
// key "notion_api_token" reads NOTION_API_TOKEN (with Prefix prepended when
// set).
type EnvStore struct {
	Prefix string
}

// NewEnvStore creates an EnvStore.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix}
}

func (e *EnvStore) name(key string) string {
	return e.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(e.name(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.name(key))
	if !ok || v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(e.name(key))
}
