package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver(NewStore())
	_, err := r.Resolve("gcr.io")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	var nilResolver *Resolver
	_, err = nilResolver.Resolve("gcr.io")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(`{"type":"service_account"}`+"\n"), 0o600))

	store := NewStore()
	missing, err := store.LoadFromEnv([]Source{
		{Registry: "gcr.io", Principal: "_json_key", SecretEnv: "GCR_KEY"},
		{Registry: "https://ghcr.io/", PrincipalEnv: "GHCR_USER", SecretEnv: "GHCR_TOKEN"},
		{Registry: "quay.io", Principal: "bot", SecretFile: keyFile},
		{Registry: "docker.io", Principal: "bot", SecretEnv: "UNSET"},
	}, envMap(map[string]string{
		"GCR_KEY":    "gcr-secret",
		"GHCR_USER":  "octo",
		"GHCR_TOKEN": "ghcr-secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"docker.io"}, missing)
	assert.Equal(t, []string{"gcr.io", "ghcr.io", "quay.io"}, store.Registries())

	r := NewResolver(store)
	creds, err := r.Resolve("gcr.io")
	require.NoError(t, err)
	assert.Equal(t, "_json_key", creds.Principal)
	assert.Equal(t, "gcr-secret", creds.Secret)

	creds, err = r.Resolve("GHCR.io")
	require.NoError(t, err)
	assert.Equal(t, "octo", creds.Principal)

	creds, err = r.Resolve("quay.io")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, creds.Secret)

	_, err = r.Resolve("docker.io")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestLoadFromEnvRequiresRegistry(t *testing.T) {
	_, err := NewStore().LoadFromEnv([]Source{{Principal: "x"}}, envMap(nil))
	require.Error(t, err)
}

func TestPutRejectsIncomplete(t *testing.T) {
	require.Error(t, NewStore().Put(Credentials{Registry: "gcr.io"}))
}

func TestSecretNeverRendered(t *testing.T) {
	creds := Credentials{Registry: "gcr.io", Principal: "_json_key", Secret: "top-secret"}

	assert.NotContains(t, creds.String(), "top-secret")
	assert.NotContains(t, fmt.Sprintf("%v", creds), "top-secret")

	data, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "top-secret")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("credentials", creds).Msg("resolved")
	assert.NotContains(t, buf.String(), "top-secret")
	assert.Contains(t, buf.String(), "gcr.io")
}

func TestStoreConcurrentReads(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Put(Credentials{Registry: "gcr.io", Principal: "p", Secret: "s"}))
	r := NewResolver(store)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve("gcr.io")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"gcr.io"}, store.Registries())
}
