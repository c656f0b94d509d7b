package policy

import "time"

type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

type ComplianceFlags struct {
	DeletionRequested bool `json:"deletion_requested"`
	Anonymized        bool `json:"anonymized"`
}

// Subject is the slice of a privacy profile the engine resolves against.
type Subject struct {
	UserID           string
	Tier             Tier
	BiometricEnabled bool
	AnonymousMode    bool
	Compliance       ComplianceFlags
}

// BiometricThresholds holds the minimum confidence per modality.
type BiometricThresholds struct {
	Fingerprint float64
	Face        float64
	Voice       float64
}

type ResolvedPolicy struct {
	Tier                Tier
	RateLimit           int
	RateWindow          time.Duration
	KeyRotationInterval time.Duration
	CacheTTL            time.Duration
	PlatformTimeout     time.Duration
	BiometricRequired   bool
	Biometric           BiometricThresholds
	Compliance          ComplianceFlags
}

// Tier table. Fixed constants, not user-editable.
var tierTable = map[Tier]ResolvedPolicy{
	TierStandard: {
		Tier:                TierStandard,
		RateLimit:           5,
		RateWindow:          time.Minute,
		KeyRotationInterval: 30 * 24 * time.Hour,
		CacheTTL:            time.Hour,
		PlatformTimeout:     10 * time.Second,
	},
	TierElevated: {
		Tier:                TierElevated,
		RateLimit:           3,
		RateWindow:          time.Minute,
		KeyRotationInterval: 7 * 24 * time.Hour,
		CacheTTL:            15 * time.Minute,
		PlatformTimeout:     5 * time.Second,
		BiometricRequired:   true,
		Biometric: BiometricThresholds{
			Fingerprint: 0.95,
			Face:        0.98,
			Voice:       0.90,
		},
	},
}

// Engine resolves a user's profile into concrete limits. Resolution is a
// pure function; it runs on every operation and is never cached.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) Resolve(s Subject) ResolvedPolicy {
	p, ok := tierTable[s.Tier]
	if !ok {
		p = tierTable[TierStandard]
	}
	p.Compliance = s.Compliance
	return p
}
