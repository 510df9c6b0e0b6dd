// Package credential holds registry credentials for the lifetime of the
// process and hands them to runs on demand.
//
// The Store is populated once at startup from environment variables or key
// files named in configuration. Secrets are redacted from every string, JSON
// and log representation of Credentials.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ErrCredentialNotFound is returned when a registry has no stored credentials.
var ErrCredentialNotFound = errors.New("credential not found")

const redacted = "***"

// Credentials authenticate against one registry.
type Credentials struct {
	Registry  string
	Principal string
	Secret    string
}

// Valid reports whether every field is populated.
func (c Credentials) Valid() bool {
	return c.Registry != "" && c.Principal != "" && c.Secret != ""
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s (secret %s)", c.Principal, c.Registry, redacted)
}

// MarshalJSON never emits the secret.
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Registry  string `json:"registry"`
		Principal string `json:"principal"`
		Secret    string `json:"secret"`
	}{c.Registry, c.Principal, redacted})
}

// MarshalZerologObject never emits the secret.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("registry", c.Registry).Str("principal", c.Principal)
}

// Source describes where a registry's credentials come from. Principal may be
// a literal or read from PrincipalEnv; the secret is read from SecretEnv or,
// failing that, from SecretFile (for JSON service-account keys).
type Source struct {
	Registry     string
	Principal    string
	PrincipalEnv string
	SecretEnv    string
	SecretFile   string
}

// Store is the process-wide credential store. Reads are concurrent; writes
// only happen during startup.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Credentials
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Credentials)}
}

// Put stores creds under creds.Registry.
func (s *Store) Put(creds Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("credentials for %q are incomplete", creds.Registry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[normalize(creds.Registry)] = creds
	return nil
}

// Get returns the credentials stored for registry.
func (s *Store) Get(registry string) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.entries[normalize(registry)]
	return creds, ok
}

// Registries lists the configured registry names in sorted order.
func (s *Store) Registries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadFromEnv fills the store from sources. getenv is usually os.Getenv.
// Sources whose secret is unavailable are skipped and reported back so the
// caller can warn; resolution of those registries later fails with
// ErrCredentialNotFound.
func (s *Store) LoadFromEnv(sources []Source, getenv func(string) string) ([]string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var missing []string
	for _, src := range sources {
		registry := strings.TrimSpace(src.Registry)
		if registry == "" {
			return missing, errors.New("credential source without registry")
		}
		principal := src.Principal
		if src.PrincipalEnv != "" {
			if v := getenv(src.PrincipalEnv); v != "" {
				principal = v
			}
		}
		secret, err := readSecret(src, getenv)
		if err != nil {
			return missing, fmt.Errorf("registry %q: %w", registry, err)
		}
		if secret == "" || principal == "" {
			missing = append(missing, registry)
			continue
		}
		if err := s.Put(Credentials{Registry: registry, Principal: principal, Secret: secret}); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

func readSecret(src Source, getenv func(string) string) (string, error) {
	if src.SecretEnv != "" {
		if v := getenv(src.SecretEnv); v != "" {
			return v, nil
		}
	}
	if src.SecretFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(src.SecretFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Resolver looks up credentials for a run.
type Resolver struct {
	store *Store
}

// NewResolver binds a resolver to store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns credentials for registry or an error wrapping
// ErrCredentialNotFound.
func (r *Resolver) Resolve(registry string) (Credentials, error) {
	if r == nil || r.store == nil {
		return Credentials{}, fmt.Errorf("%w: %q", ErrCredentialNotFound, registry)
	}
	creds, ok := r.store.Get(registry)
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %q", ErrCredentialNotFound, registry)
	}
	return creds, nil
}

func normalize(registry string) string {
	registry = strings.TrimSpace(strings.ToLower(registry))
	registry = strings.TrimPrefix(registry, "https://")
	registry = strings.TrimPrefix(registry, "http://")
	return strings.TrimSuffix(registry, "/")
}
