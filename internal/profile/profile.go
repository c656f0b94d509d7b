package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"sync-engine/internal/policy"
)

// Profile is the per-user privacy record. Mutated only by explicit settings
// changes or key-rotation bookkeeping; never deleted, only soft-marked for
// erasure under compliance deletion.
type Profile struct {
	UserID            string      `json:"user_id" gorm:"primaryKey;column:user_id"`
	Tier              policy.Tier `json:"tier" gorm:"column:tier"`
	ActiveKeyID       string      `json:"active_key_id" gorm:"column:active_key_id"`
	KeyCreatedAt      time.Time   `json:"key_created_at" gorm:"column:key_created_at"`
	BiometricEnabled  bool        `json:"biometric_enabled" gorm:"column:biometric_enabled"`
	AnonymousMode     bool        `json:"anonymous_mode" gorm:"column:anonymous_mode"`
	DeletionRequested bool        `json:"deletion_requested" gorm:"column:deletion_requested"`
	Anonymized        bool        `json:"anonymized" gorm:"column:anonymized"`
	UpdatedAt         time.Time   `json:"updated_at" gorm:"column:updated_at"`
}

func (Profile) TableName() string { return "privacy_profiles" }

func (p *Profile) Subject() policy.Subject {
	return policy.Subject{
		UserID:           p.UserID,
		Tier:             p.Tier,
		BiometricEnabled: p.BiometricEnabled,
		AnonymousMode:    p.AnonymousMode,
		Compliance: policy.ComplianceFlags{
			DeletionRequested: p.DeletionRequested,
			Anonymized:        p.Anonymized,
		},
	}
}

var ErrNotFound = errors.New("privacy profile not found")

type Repository interface {
	// Get returns the user's profile, creating a standard-tier default on
	// first use.
	Get(ctx context.Context, userID string) (*Profile, error)

	Save(ctx context.Context, p *Profile) error

	// RequestDeletion soft-marks the profile for erasure.
	RequestDeletion(ctx context.Context, userID string) error

	// Anonymize strips the profile into anonymous mode.
	Anonymize(ctx context.Context, userID string) error
}

func defaultProfile(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:    userID,
		Tier:      policy.TierStandard,
		UpdatedAt: now,
	}
}

type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]*Profile),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Get(ctx context.Context, userID string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		p = defaultProfile(userID, r.now())
		r.profiles[userID] = p
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) Save(ctx context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.UpdatedAt = r.now()
	r.profiles[p.UserID] = &cp
	return nil
}

func (r *MemoryRepository) RequestDeletion(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.DeletionRequested = true
	p.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) Anonymize(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.Anonymized = true
	p.AnonymousMode = true
	p.UpdatedAt = r.now()
	return nil
}
