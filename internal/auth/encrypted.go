package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize     = 32
	keySize      = 32
	kdfRounds    = 100_000
	credsFile    = "credentials.enc"
	passFile     = ".passphrase"
	passEnv      = "BOT_PASSPHRASE"
	storeVersion = 1
)

// EncryptedFileStore keeps all accounts in one AES-GCM encrypted JSON file
// under the bot's data directory. The key derives from a passphrase
// (BOT_PASSPHRASE, or an auto-generated one persisted next to the store)
// via PBKDF2-SHA256.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

type credsFileBody struct {
	Version   int       `json:"version"`
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Modified  time.Time `json:"modified"`
}

// NewEncryptedFileStore prepares the store under dataDir, creating the
// directory and passphrase file on first use.
func NewEncryptedFileStore(dataDir string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	s := &EncryptedFileStore{path: filepath.Join(dataDir, credsFile)}

	pass, err := loadPassphrase(dataDir)
	if err != nil {
		return nil, err
	}
	s.passphrase = pass
	return s, nil
}

func (s *EncryptedFileStore) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if creds == nil || creds.Username == "" {
		return ErrInvalidCredentials
	}

	accounts, salt, err := s.load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if accounts == nil {
		accounts = map[string]Credentials{}
	}
	accounts[creds.Username] = *creds
	return s.save(accounts, salt)
}

func (s *EncryptedFileStore) Load(username string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == "" {
		return nil, ErrInvalidCredentials
	}
	accounts, _, err := s.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialsNotFound
		}
		return nil, err
	}
	creds, ok := accounts[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &creds, nil
}

func (s *EncryptedFileStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == "" {
		return ErrInvalidCredentials
	}
	accounts, salt, err := s.load()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialsNotFound
		}
		return err
	}
	if _, ok := accounts[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(accounts, username)
	if len(accounts) == 0 {
		return os.Remove(s.path)
	}
	return s.save(accounts, salt)
}

func (s *EncryptedFileStore) load() (map[string]Credentials, []byte, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, err
	}

	var body credsFileBody
	if err := json.Unmarshal(content, &body); err != nil {
		return nil, nil, fmt.Errorf("parse credential store: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(body.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(body.Encrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}

	key := pbkdf2.Key([]byte(s.passphrase), salt, kdfRounds, keySize, sha256.New)
	plaintext, err := decrypt(ciphertext, key)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt credential store: %w", err)
	}

	var accounts map[string]Credentials
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, nil, fmt.Errorf("parse accounts: %w", err)
	}
	return accounts, salt, nil
}

func (s *EncryptedFileStore) save(accounts map[string]Credentials, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return err
		}
	}
	key := pbkdf2.Key([]byte(s.passphrase), salt, kdfRounds, keySize, sha256.New)

	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return err
	}

	content, err := json.MarshalIndent(credsFileBody{
		Version:   storeVersion,
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
		Modified:  time.Now(),
	}, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a half-written store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func loadPassphrase(dataDir string) (string, error) {
	if pass := os.Getenv(passEnv); pass != "" {
		return pass, nil
	}

	path := filepath.Join(dataDir, passFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	pass := base64.URLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(pass), 0o600); err != nil {
		return "", err
	}
	return pass, nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, payload := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, payload, nil)
}
