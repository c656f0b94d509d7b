package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// Wire-format invariants; not tunables.
const (
	keySize      = 32 // 256-bit AES key
	nonceSize    = 16
	saltSize     = 64
	pbkdf2Rounds = 100_000
	gcmTagSize   = 16 // 128-bit tag
	secretSize   = 32
)

// ErrKeyNotFound indicates a defect in rotation bookkeeping. Always fatal,
// never silently recovered.
var ErrKeyNotFound = errors.New("encryption key not found")

type Key struct {
	ID        string
	CreatedAt time.Time
	RotateAt  time.Time // deadline under the interval at creation; informational

	material []byte
}

type userKeys struct {
	mu       sync.Mutex
	active   *Key
	retained map[string]*retainedKey
}

type retainedKey struct {
	key       *Key
	retiredAt time.Time
}

// Manager holds the active symmetric key per user and rotates it on the
// tier-dependent schedule. Prior keys stay retained long enough to decrypt
// not-yet-expired cache entries.
type Manager struct {
	mu    sync.Mutex
	users map[string]*userKeys

	// retention bounds how long a retired key can still decrypt; it must
	// cover the longest cache TTL any tier allows.
	retention time.Duration
	now       func() time.Time
}

func NewManager(retention time.Duration) *Manager {
	return &Manager{
		users:     make(map[string]*userKeys),
		retention: retention,
		now:       time.Now,
	}
}

func (m *Manager) userKeys(userID string) *userKeys {
	m.mu.Lock()
	defer m.mu.Unlock()
	uk, ok := m.users[userID]
	if !ok {
		uk = &userKeys{retained: make(map[string]*retainedKey)}
		m.users[userID] = uk
	}
	return uk
}

func newKey(now time.Time, rotationInterval time.Duration) (*Key, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate key salt: %w", err)
	}
	return &Key{
		ID:        uuid.NewString(),
		CreatedAt: now,
		RotateAt:  now.Add(rotationInterval),
		material:  pbkdf2.Key(secret, salt, pbkdf2Rounds, keySize, sha256.New),
	}, nil
}

// ActiveKey returns the user's active key, creating one on first use.
func (m *Manager) ActiveKey(userID string, rotationInterval time.Duration) (*Key, error) {
	uk := m.userKeys(userID)
	uk.mu.Lock()
	defer uk.mu.Unlock()
	if uk.active == nil {
		k, err := newKey(m.now(), rotationInterval)
		if err != nil {
			return nil, err
		}
		uk.active = k
	}
	return uk.active, nil
}

// RotateIfDue replaces the active key once its deadline has passed. The old
// key moves to the retained set; already-encrypted cache entries keep
// decrypting under it until their own expiry.
func (m *Manager) RotateIfDue(userID string, rotationInterval time.Duration, now time.Time) (rotated bool, err error) {
	uk := m.userKeys(userID)
	uk.mu.Lock()
	defer uk.mu.Unlock()

	if uk.active == nil {
		k, err := newKey(now, rotationInterval)
		if err != nil {
			return false, err
		}
		uk.active = k
		return false, nil
	}
	// The caller's current interval governs, not the one stamped at
	// creation; a tier change tightens or loosens the live key's deadline.
	if now.Before(uk.active.CreatedAt.Add(rotationInterval)) {
		return false, nil
	}

	k, err := newKey(now, rotationInterval)
	if err != nil {
		return false, err
	}
	uk.retained[uk.active.ID] = &retainedKey{key: uk.active, retiredAt: now}
	uk.active = k

	for id, rk := range uk.retained {
		if now.Sub(rk.retiredAt) > m.retention {
			delete(uk.retained, id)
		}
	}
	return true, nil
}

func (uk *userKeys) lookup(keyID string) (*Key, bool) {
	if uk.active != nil && uk.active.ID == keyID {
		return uk.active, true
	}
	if rk, ok := uk.retained[keyID]; ok {
		return rk.key, true
	}
	return nil, false
}

// Encrypt seals plaintext under the user's active key and returns the
// ciphertext together with the key id it was sealed with.
func (m *Manager) Encrypt(userID string, plaintext []byte, rotationInterval time.Duration) (ciphertext []byte, keyID string, err error) {
	key, err := m.ActiveKey(userID, rotationInterval)
	if err != nil {
		return nil, "", err
	}

	uk := m.userKeys(userID)
	uk.mu.Lock()
	defer uk.mu.Unlock()

	gcm, err := newGCM(key.material)
	if err != nil {
		return nil, "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), key.ID, nil
}

// Decrypt opens ciphertext under the specific key it was sealed with,
// whether that key is still active or retained.
func (m *Manager) Decrypt(userID string, ciphertext []byte, keyID string) ([]byte, error) {
	uk := m.userKeys(userID)
	uk.mu.Lock()
	defer uk.mu.Unlock()

	key, ok := uk.lookup(keyID)
	if !ok {
		return nil, fmt.Errorf("user %s key %s: %w", userID, keyID, ErrKeyNotFound)
	}
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	gcm, err := newGCM(key.material)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
}

func newGCM(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
