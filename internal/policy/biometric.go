package policy

import (
	"errors"
	"sync"
	"time"
)

const (
	maxBiometricFailures = 3
	lockoutWindow        = 30 * time.Minute
)

var (
	// ErrBiometricLockout fails every elevated action until the lockout
	// window expires.
	ErrBiometricLockout = errors.New("biometric lockout active")

	// ErrBiometricRejected marks a single sub-threshold sample.
	ErrBiometricRejected = errors.New("biometric confidence below threshold")

	errUnknownModality = errors.New("unknown biometric modality")
)

type Modality string

const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityVoice       Modality = "voice"
)

type Sample struct {
	Modality   Modality `json:"modality"`
	Confidence float64  `json:"confidence"`
}

type lockState struct {
	failures    int
	firstFailed time.Time
	lockedUntil time.Time
}

// BiometricGate keeps the per-user consecutive-failure counter behind the
// elevated tier. Counter resets on any success.
type BiometricGate struct {
	mu     sync.Mutex
	states map[string]*lockState
	now    func() time.Time
}

func NewBiometricGate() *BiometricGate {
	return &BiometricGate{
		states: make(map[string]*lockState),
		now:    time.Now,
	}
}

func (t BiometricThresholds) forModality(m Modality) (float64, error) {
	switch m {
	case ModalityFingerprint:
		return t.Fingerprint, nil
	case ModalityFace:
		return t.Face, nil
	case ModalityVoice:
		return t.Voice, nil
	default:
		return 0, errUnknownModality
	}
}

// Authorize checks one sample against the tier thresholds. Three consecutive
// failures inside the lockout window lock the user out for 30 minutes; while
// locked, even a passing sample fails.
func (g *BiometricGate) Authorize(userID string, sample Sample, thresholds BiometricThresholds) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st, ok := g.states[userID]
	if !ok {
		st = &lockState{}
		g.states[userID] = st
	}

	if now.Before(st.lockedUntil) {
		return ErrBiometricLockout
	}

	// Failures older than the window no longer count as consecutive.
	if st.failures > 0 && now.Sub(st.firstFailed) > lockoutWindow {
		st.failures = 0
	}

	threshold, err := thresholds.forModality(sample.Modality)
	if err != nil {
		return err
	}

	if sample.Confidence >= threshold {
		st.failures = 0
		st.lockedUntil = time.Time{}
		return nil
	}

	if st.failures == 0 {
		st.firstFailed = now
	}
	st.failures++
	if st.failures >= maxBiometricFailures {
		st.lockedUntil = now.Add(lockoutWindow)
		st.failures = 0
		return ErrBiometricLockout
	}
	return ErrBiometricRejected
}
