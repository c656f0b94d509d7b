package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testThresholds = BiometricThresholds{
	Fingerprint: 0.95,
	Face:        0.98,
	Voice:       0.90,
}

func newTestGate(start time.Time) (*BiometricGate, *time.Time) {
	now := start
	g := NewBiometricGate()
	g.now = func() time.Time { return now }
	return g, &now
}

func pass() Sample { return Sample{Modality: ModalityFingerprint, Confidence: 0.99} }
func fail() Sample { return Sample{Modality: ModalityFingerprint, Confidence: 0.50} }

func TestAuthorize_PassingSample(t *testing.T) {
	g, _ := newTestGate(time.Now())
	assert.NoError(t, g.Authorize("u1", pass(), testThresholds))
}

func TestAuthorize_ThreeFailuresLockOut(t *testing.T) {
	g, _ := newTestGate(time.Now())

	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricLockout)

	// Fourth attempt fails even with a passing score.
	assert.ErrorIs(t, g.Authorize("u1", pass(), testThresholds), ErrBiometricLockout)
}

func TestAuthorize_SuccessResetsCounter(t *testing.T) {
	g, _ := newTestGate(time.Now())

	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	require.NoError(t, g.Authorize("u1", pass(), testThresholds))

	// Counter is back at zero: two more failures do not lock.
	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	assert.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
}

func TestAuthorize_LockoutExpires(t *testing.T) {
	g, now := newTestGate(time.Now())

	for i := 0; i < 3; i++ {
		_ = g.Authorize("u1", fail(), testThresholds)
	}
	require.ErrorIs(t, g.Authorize("u1", pass(), testThresholds), ErrBiometricLockout)

	*now = now.Add(31 * time.Minute)
	assert.NoError(t, g.Authorize("u1", pass(), testThresholds))
}

func TestAuthorize_StaleFailuresDoNotCount(t *testing.T) {
	g, now := newTestGate(time.Now())

	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
	require.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)

	// The first failures age out of the window; the next failure starts
	// a fresh streak instead of locking.
	*now = now.Add(31 * time.Minute)
	assert.ErrorIs(t, g.Authorize("u1", fail(), testThresholds), ErrBiometricRejected)
}

func TestAuthorize_PerModalityThresholds(t *testing.T) {
	g, _ := newTestGate(time.Now())

	assert.NoError(t, g.Authorize("u1", Sample{Modality: ModalityVoice, Confidence: 0.91}, testThresholds))
	assert.ErrorIs(t,
		g.Authorize("u1", Sample{Modality: ModalityFace, Confidence: 0.95}, testThresholds),
		ErrBiometricRejected)
}

func TestAuthorize_UsersAreIndependent(t *testing.T) {
	g, _ := newTestGate(time.Now())

	for i := 0; i < 3; i++ {
		_ = g.Authorize("u1", fail(), testThresholds)
	}
	require.ErrorIs(t, g.Authorize("u1", pass(), testThresholds), ErrBiometricLockout)

	assert.NoError(t, g.Authorize("u2", pass(), testThresholds))
}
