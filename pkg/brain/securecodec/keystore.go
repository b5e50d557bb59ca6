package securecodec

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

// KeyStore fetches a key by alias, creating it on first use.
type KeyStore interface {
	GetOrCreateKey(alias string) (*Key, error)
}

const (
	KeyStoreKeyring    = "keyring"
	KeyStorePassphrase = "passphrase"
	KeyStoreMemory     = "memory"

	DefaultService    = "pocketbrain"
	DefaultIterations = 600000
	saltSize          = 32
)

type Options struct {
	// Service is the keyring service name.
	Service string
	// Passphrase and SaltFile configure the passphrase store.
	Passphrase string
	SaltFile   string
	Iterations int
}

// NewKeyStore builds the store named by kind.
func NewKeyStore(kind string, opts Options) (KeyStore, error) {
	switch kind {
	case "", KeyStoreKeyring:
		return NewKeyringStore(opts.Service), nil
	case KeyStorePassphrase:
		if opts.Passphrase == "" {
			return nil, errors.New("passphrase key store requires a passphrase")
		}
		if opts.SaltFile == "" {
			return nil, errors.New("passphrase key store requires a salt file")
		}
		return NewPassphraseStore(opts.Passphrase, opts.SaltFile, opts.Iterations), nil
	case KeyStoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown key store %q", kind)
	}
}

// KeyringStore keeps key material in the operating system secret store.
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) GetOrCreateKey(alias string) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := keyring.Get(s.service, alias)
	switch {
	case err == nil:
		material, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, errors.Wrapf(err, "keyring entry for %q is not valid", alias)
		}
		return newKey(alias, material)
	case errors.Is(err, keyring.ErrNotFound):
		material, err := randomKeyMaterial()
		if err != nil {
			return nil, err
		}
		if err := keyring.Set(s.service, alias, base64.StdEncoding.EncodeToString(material)); err != nil {
			return nil, errors.Wrapf(err, "could not store key %q in keyring", alias)
		}
		log.Info().Str("alias", alias).Str("service", s.service).Msg("Created new brain key")
		return newKey(alias, material)
	default:
		return nil, errors.Wrapf(err, "could not read key %q from keyring", alias)
	}
}

// PassphraseStore derives keys from a passphrase with PBKDF2-SHA256 and a
// random salt persisted next to the brain file.
type PassphraseStore struct {
	passphrase []byte
	saltFile   string
	iterations int
}

func NewPassphraseStore(passphrase string, saltFile string, iterations int) *PassphraseStore {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &PassphraseStore{
		passphrase: []byte(passphrase),
		saltFile:   saltFile,
		iterations: iterations,
	}
}

func (s *PassphraseStore) GetOrCreateKey(alias string) (*Key, error) {
	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	material := pbkdf2.Key(s.passphrase, append(salt, []byte(alias)...), s.iterations, KeySize, sha256.New)
	return newKey(alias, material)
}

func (s *PassphraseStore) loadOrCreateSalt() ([]byte, error) {
	salt, err := os.ReadFile(s.saltFile)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err == nil {
		return nil, errors.Errorf("salt file %s has %d bytes, expected %d", s.saltFile, len(salt), saltSize)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "could not read salt file")
	}

	salt, err = randomKeyMaterial()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.saltFile), 0o700); err != nil {
		return nil, errors.Wrap(err, "could not create salt directory")
	}
	if err := os.WriteFile(s.saltFile, salt, 0o600); err != nil {
		return nil, errors.Wrap(err, "could not write salt file")
	}
	log.Info().Str("salt_file", s.saltFile).Msg("Generated new brain salt")
	return salt, nil
}

// MemoryStore keeps keys in process memory. Used by tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string][]byte{}}
}

func (s *MemoryStore) GetOrCreateKey(alias string) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	material, ok := s.keys[alias]
	if !ok {
		var err error
		material, err = randomKeyMaterial()
		if err != nil {
			return nil, err
		}
		s.keys[alias] = material
	}
	cp := make([]byte, len(material))
	copy(cp, material)
	return newKey(alias, cp)
}
