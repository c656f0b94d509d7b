package dispatch

import (
	"errors"
	"net/http"
	"strings"

	"sync-engine/internal/platform"
	"sync-engine/internal/policy"
	"sync-engine/internal/profile"
	"sync-engine/internal/shared/httpx"
)

type Handler struct {
	d        *Dispatcher
	profiles profile.Repository
}

func NewHandler(d *Dispatcher, profiles profile.Repository) *Handler {
	return &Handler{d: d, profiles: profiles}
}

func toSample(b *BiometricSample) *policy.Sample {
	if b == nil {
		return nil
	}
	return &policy.Sample{
		Modality:   policy.Modality(b.Modality),
		Confidence: b.Confidence,
	}
}

func (h *Handler) CrossPost(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}
	req, err := httpx.Decode[CrossPostRequest](r)
	if err != nil {
		return errBadReq("bad json")
	}
	if strings.TrimSpace(req.Body) == "" {
		return errBadReq("body cannot be empty")
	}

	resp, err := h.d.CrossPost(r.Context(), uid, req.Body, req.MediaURL, req.Platforms, toSample(req.Biometric))
	if err != nil {
		return mapCallErr(err)
	}
	httpx.WriteJSON(w, resp, http.StatusOK)
	return nil
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}

	var targets []platform.ID
	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			targets = append(targets, platform.ID(strings.TrimSpace(s)))
		}
	}

	var sample *BiometricSample
	if m := r.URL.Query().Get("biometric_modality"); m != "" {
		sample = &BiometricSample{
			Modality:   m,
			Confidence: httpx.QueryFloat(r, "biometric_confidence", 0),
		}
	}

	feed, err := h.d.FetchAggregatedFeed(r.Context(), uid, targets, toSample(sample))
	if err != nil {
		return mapCallErr(err)
	}
	httpx.WriteJSON(w, feed, http.StatusOK)
	return nil
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}
	postID := r.PathValue("id")
	if postID == "" {
		return errBadReq("missing post id")
	}

	var targets []platform.ID
	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			targets = append(targets, platform.ID(strings.TrimSpace(s)))
		}
	}
	if len(targets) == 0 {
		return errBadReq("missing platforms")
	}

	results, err := h.d.DeleteAcrossPlatforms(r.Context(), uid, postID, targets)
	if err != nil {
		return mapCallErr(err)
	}
	httpx.WriteJSON(w, map[string]any{"results": results}, http.StatusOK)
	return nil
}

type profileUpdateRequest struct {
	Tier             *policy.Tier `json:"tier,omitempty"`
	BiometricEnabled *bool        `json:"biometric_enabled,omitempty"`
	AnonymousMode    *bool        `json:"anonymous_mode,omitempty"`
}

// UpdateProfile is the settings surface; it persists the change and fires
// the profile-updated hook.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}
	req, err := httpx.Decode[profileUpdateRequest](r)
	if err != nil {
		return errBadReq("bad json")
	}

	p, err := h.profiles.Get(r.Context(), uid)
	if err != nil {
		return err
	}
	if req.Tier != nil {
		if *req.Tier != policy.TierStandard && *req.Tier != policy.TierElevated {
			return errBadReq("unknown tier")
		}
		p.Tier = *req.Tier
	}
	if req.BiometricEnabled != nil {
		p.BiometricEnabled = *req.BiometricEnabled
	}
	if req.AnonymousMode != nil {
		p.AnonymousMode = *req.AnonymousMode
	}
	if err := h.profiles.Save(r.Context(), p); err != nil {
		return err
	}
	if err := h.d.OnPrivacyProfileUpdated(r.Context(), uid); err != nil {
		return err
	}
	httpx.WriteJSON(w, p, http.StatusOK)
	return nil
}

func (h *Handler) RequestDeletion(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}
	if err := h.profiles.RequestDeletion(r.Context(), uid); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return errBadReq("unknown user")
		}
		return err
	}
	if err := h.d.OnPrivacyProfileUpdated(r.Context(), uid); err != nil {
		return err
	}
	httpx.WriteJSON(w, map[string]string{"status": "deletion_requested"}, http.StatusOK)
	return nil
}

// Anonymize strips the profile of identifying settings while keeping the
// account usable; the cached feed is dropped like any other profile change.
func (h *Handler) Anonymize(w http.ResponseWriter, r *http.Request) error {
	uid, err := httpx.UserFromCtx(r)
	if err != nil {
		return errUnauthorized("auth required")
	}
	if err := h.profiles.Anonymize(r.Context(), uid); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return errBadReq("unknown user")
		}
		return err
	}
	if err := h.d.OnPrivacyProfileUpdated(r.Context(), uid); err != nil {
		return err
	}
	httpx.WriteJSON(w, map[string]string{"status": "anonymized"}, http.StatusOK)
	return nil
}

func mapCallErr(err error) error {
	switch {
	case errors.Is(err, ErrNoPlatforms):
		return errBadReq(err.Error())
	case errors.Is(err, ErrBiometricRequired),
		errors.Is(err, policy.ErrBiometricRejected):
		return errUnauthorized(err.Error())
	case errors.Is(err, policy.ErrBiometricLockout):
		return httpErr{err.Error(), http.StatusLocked}
	case errors.Is(err, ErrDeletionRequested):
		return httpErr{err.Error(), http.StatusForbidden}
	default:
		return err
	}
}

type httpErr struct {
	msg  string
	code int
}

func (e httpErr) Error() string      { return e.msg }
func (e httpErr) StatusCode() int    { return e.code }
func errBadReq(m string) error       { return httpErr{m, http.StatusBadRequest} }
func errUnauthorized(m string) error { return httpErr{m, http.StatusUnauthorized} }
