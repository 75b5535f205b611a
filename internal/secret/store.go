// Package secret resolves credentials (the Notion token, destination
// passwords) from pluggable stores.
package secret

// SecretStore provides a pluggable interface for storing sensitive data
// such as the Notion integration token or database passwords.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Well-known keys.
const (
	KeyNotionToken = "notion_api_token"
	KeyMongoURI    = "mongo_uri"
)

// DatabasePasswordKey is the key of the destination password for env.
func DatabasePasswordKey(env string) string {
	return "db_password_" + env
}

// Chain looks a key up in each store in turn.
type Chain []SecretStore

// Get returns the first non-empty value.
func (c Chain) Get(key string) ([]byte, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, nil
}

// Set writes to the first store.
func (c Chain) Set(key string, value []byte) error {
	if len(c) == 0 {
		return nil
	}
	return c[0].Set(key, value)
}

// Delete removes key from every store.
func (c Chain) Delete(key string) error {
	for _, s := range c {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the string value of key, or fallback when every store is
// empty.
func Lookup(s SecretStore, key, fallback string) (string, error) {
	if s == nil {
		return fallback, nil
	}
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return fallback, nil
	}
	return string(v), nil
}
