package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id cost for deriving the file sealing key from a passphrase.
const (
	sealTime    = 2
	sealMemKiB  = 64 * 1024
	sealThreads = 2
	sealSaltLen = 16
)

// ErrSealed is returned when a sealed token file cannot be opened with the
// configured passphrase.
var ErrSealed = errors.New("token file: cannot unseal")

// FileStore keeps the token in a JSON file (mode 0600).
//
// With a passphrase the record is sealed with XChaCha20-Poly1305 under a key
// derived by Argon2id; a fresh salt and nonce are drawn on every save.
type FileStore struct {
	path       string
	passphrase []byte
}

// NewFileStore returns a FileStore at path. An empty passphrase stores plain JSON.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: token file path is empty", ErrConfig)
	}
	st := &FileStore{path: filepath.Clean(path)}
	if passphrase != "" {
		st.passphrase = []byte(passphrase)
	}
	return st, nil
}

// DefaultTokenPath returns <user config dir>/checkinctl/<profile>.token.
func DefaultTokenPath(profile string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if profile == "" {
		profile = "default"
	}
	return filepath.Join(dir, "checkinctl", profile+".token"), nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

type sealedFile struct {
	V     int    `json:"v"`
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

func (s *FileStore) Load(_ context.Context) (Record, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNoToken
	}
	if err != nil {
		return Record{}, fmt.Errorf("read token file: %w", err)
	}

	if s.passphrase != nil {
		b, err = s.open(b)
		if err != nil {
			return Record{}, err
		}
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode token file: %w", err)
	}
	if rec.AccessToken == "" {
		return Record{}, ErrNoToken
	}
	return rec, nil
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if s.passphrase != nil {
		if b, err = s.seal(b); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("remove token file: %w", err)
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	return json.Marshal(sealedFile{
		V:     1,
		Salt:  salt,
		Nonce: nonce,
		Data:  aead.Seal(nil, nonce, plain, []byte(s.path)),
	})
}

func (s *FileStore) open(b []byte) ([]byte, error) {
	var sf sealedFile
	if err := json.Unmarshal(b, &sf); err != nil || sf.V != 1 {
		return nil, ErrSealed
	}
	if len(sf.Salt) != sealSaltLen || len(sf.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSealed
	}
	aead, err := chacha20poly1305.NewX(s.key(sf.Salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, sf.Nonce, sf.Data, []byte(s.path))
	if err != nil {
		return nil, ErrSealed
	}
	return plain, nil
}

func (s *FileStore) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, sealTime, sealMemKiB, sealThreads, chacha20poly1305.KeySize)
}
