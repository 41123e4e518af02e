// Package secrets keeps local secrets, such as the API signing key, out of
// the plain-text config file.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// JWTSecretName is the entry holding the HS256 key the API verifies tokens with.
const JWTSecretName = "jwt_secret"

const fileName = "secrets.json"

var ErrNotFound = errors.New("secret not found")

// Store is a per-user file (0600) of AES-GCM sealed values. It obfuscates
// rather than protects; an OS keychain is stronger.
type Store struct {
	dir string
}

// NewStore keeps its file in dir.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// DefaultStore lives in the user config dir.
func DefaultStore() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewStore(filepath.Join(dir, "jaskledger")), nil
}

type secretFile struct {
	Values map[string]string `json:"values"` // name -> base64(nonce|ciphertext)
}

func (s *Store) Put(name, value string) error {
	if name = norm(name); name == "" {
		return fmt.Errorf("secret name required")
	}
	sf, err := s.load()
	if err != nil {
		return err
	}
	if sf.Values == nil {
		sf.Values = map[string]string{}
	}
	ct, err := seal([]byte(value))
	if err != nil {
		return err
	}
	sf.Values[name] = base64.StdEncoding.EncodeToString(ct)
	return s.save(sf)
}

func (s *Store) Get(name string) (string, error) {
	sf, err := s.load()
	if err != nil {
		return "", err
	}
	enc, ok := sf.Values[norm(name)]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	pt, err := open(raw)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	return string(pt), nil
}

func (s *Store) Delete(name string) error {
	sf, err := s.load()
	if err != nil {
		return err
	}
	delete(sf.Values, norm(name))
	return s.save(sf)
}

// Ensure returns the value stored under name, creating a random 32-byte hex
// value first when there is none.
func (s *Store) Ensure(name string) (string, error) {
	v, err := s.Get(name)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	v = hex.EncodeToString(buf)
	if err := s.Put(name, v); err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

func (s *Store) load() (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parse %s: %w", s.path(), err)
	}
	return sf, nil
}

func (s *Store) save(sf secretFile) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func masterKey() []byte {
	hash := sha256.Sum256([]byte(fmt.Sprintf("jaskledger-%s-%s", runtime.GOOS, os.Getenv("USER"))))
	return hash[:]
}

func newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(plain []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func open(ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
