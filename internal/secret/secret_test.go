package secret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/secret"
)

type mapStore map[string][]byte

func (m mapStore) Set(key string, value []byte) error {
	m[key] = value
	return nil
}

func (m mapStore) Get(key string) ([]byte, error) { return m[key], nil }

func (m mapStore) Delete(key string) error {
	delete(m, key)
	return nil
}

func TestEnvStore(t *testing.T) {
	t.Setenv("NOTION_API_TOKEN", "secret_abc")
	t.Setenv("DB_PASSWORD_CLOUD", "")

	s := secret.NewEnvStore("")
	v, err := s.Get(secret.KeyNotionToken)
	require.NoError(t, err)
	assert.Equal(t, "secret_abc", string(v))

	v, err = s.Get(secret.DatabasePasswordKey("cloud"))
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set("db-password.local", []byte("pw")))
	v, _ = s.Get("DB_PASSWORD_LOCAL")
	assert.Equal(t, "pw", string(v))
	require.NoError(t, s.Delete("db_password_local"))
	v, _ = s.Get("db_password_local")
	assert.Nil(t, v)
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	first := mapStore{"a": []byte("")}
	second := mapStore{"a": []byte("from-second"), "b": []byte("b2")}
	chain := secret.Chain{first, second}

	v, err := chain.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "from-second", string(v))

	require.NoError(t, chain.Set("c", []byte("c1")))
	assert.Equal(t, "c1", string(first["c"]))

	require.NoError(t, chain.Delete("b"))
	assert.NotContains(t, second, "b")
}

func TestLookup_Fallback(t *testing.T) {
	v, err := secret.Lookup(mapStore{}, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	v, err = secret.Lookup(mapStore{"k": []byte("v")}, "k", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = secret.Lookup(nil, "k", "fb")
	require.NoError(t, err)
	assert.Equal(t, "fb", v)
}
