package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sync-engine/internal/feedcache"
	"sync-engine/internal/keys"
	"sync-engine/internal/platform"
	"sync-engine/internal/policy"
	"sync-engine/internal/profile"
	"sync-engine/internal/ratelimit"
)

var (
	ErrNoPlatforms       = errors.New("target platform set is empty")
	ErrBiometricRequired = errors.New("elevated tier requires a biometric sample")
	ErrDeletionRequested = errors.New("account erasure requested; operations disabled")
)

// Dispatcher orchestrates fan-out publish and fan-in fetch across the
// registered adapters under the caller's resolved policy.
type Dispatcher struct {
	adapters *platform.Registry
	policies *policy.Engine
	gate     *policy.BiometricGate
	limiter  ratelimit.Limiter
	keys     *keys.Manager
	cache    feedcache.Store
	profiles profile.Repository
	events   *EventQueue
	tracer   trace.Tracer
	now      func() time.Time

	// publish bookkeeping consulted by DeleteAcrossPlatforms
	mu      sync.Mutex
	results map[string][]PublishResult
}

func NewDispatcher(
	adapters *platform.Registry,
	policies *policy.Engine,
	gate *policy.BiometricGate,
	limiter ratelimit.Limiter,
	km *keys.Manager,
	cache feedcache.Store,
	profiles profile.Repository,
	events *EventQueue,
) *Dispatcher {
	return &Dispatcher{
		adapters: adapters,
		policies: policies,
		gate:     gate,
		limiter:  limiter,
		keys:     km,
		cache:    cache,
		profiles: profiles,
		events:   events,
		tracer:   otel.Tracer("sync-engine/dispatch"),
		now:      time.Now,
		results:  make(map[string][]PublishResult),
	}
}

// preflight resolves the caller's policy and applies the whole-call gates:
// compliance erasure and, on the elevated tier, biometric authorization.
func (d *Dispatcher) preflight(ctx context.Context, userID string, sample *policy.Sample) (policy.ResolvedPolicy, error) {
	p, err := d.profiles.Get(ctx, userID)
	if err != nil {
		return policy.ResolvedPolicy{}, fmt.Errorf("load profile: %w", err)
	}
	pol := d.policies.Resolve(p.Subject())

	if pol.Compliance.DeletionRequested {
		return policy.ResolvedPolicy{}, ErrDeletionRequested
	}
	if pol.BiometricRequired {
		if sample == nil {
			return policy.ResolvedPolicy{}, ErrBiometricRequired
		}
		if err := d.gate.Authorize(userID, *sample, pol.Biometric); err != nil {
			return policy.ResolvedPolicy{}, err
		}
	}
	return pol, nil
}

func rateKey(userID string, tier policy.Tier) string {
	return userID + ":" + string(tier)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, platform.ErrRejected):
		return CodeRejected
	case errors.Is(err, platform.ErrAuthExpired):
		return CodeAuthExpired
	default:
		return CodeUnavailable
	}
}

// CrossPost fans content out to every target platform concurrently. The
// result slice has one entry per target, in request order; per-platform
// failure never aborts the call.
func (d *Dispatcher) CrossPost(ctx context.Context, userID, body, mediaURL string, targets []platform.ID, sample *policy.Sample) (*CrossPostResponse, error) {
	if len(targets) == 0 {
		return nil, ErrNoPlatforms
	}
	pol, err := d.preflight(ctx, userID, sample)
	if err != nil {
		return nil, err
	}

	post := Post{
		ID:        uuid.NewString(),
		AuthorID:  userID,
		Body:      body,
		MediaURL:  mediaURL,
		CreatedAt: d.now().UTC(),
	}

	results := make([]PublishResult, len(targets))
	var wg sync.WaitGroup

	for i, target := range targets {
		results[i] = PublishResult{Platform: target}

		adapter, err := d.adapters.Get(target)
		if err != nil {
			results[i].ErrorCode = CodeNoAdapter
			continue
		}

		// One admission token per target platform, never a shared one.
		granted, err := d.limiter.TryAdmit(ctx, rateKey(userID, pol.Tier), pol.RateLimit, pol.RateWindow, 1)
		if err != nil || !granted {
			results[i].ErrorCode = CodeRateLimited
			rateLimitedTotal.Inc()
			publishTotal.WithLabelValues(string(target), CodeRateLimited).Inc()
			continue
		}

		wg.Add(1)
		go func(i int, a platform.Adapter) {
			defer wg.Done()
			d.publishOne(ctx, a, post, pol.PlatformTimeout, &results[i])
		}(i, adapter)
	}
	wg.Wait()

	d.mu.Lock()
	d.results[post.ID] = append([]PublishResult(nil), results...)
	d.mu.Unlock()

	d.events.Publish(ResultEvent{
		UserID:  userID,
		PostID:  post.ID,
		Results: results,
		At:      d.now().UTC(),
	})

	return &CrossPostResponse{PostID: post.ID, Results: results}, nil
}

func (d *Dispatcher) publishOne(ctx context.Context, a platform.Adapter, post Post, timeout time.Duration, res *PublishResult) {
	ctx, span := d.tracer.Start(ctx, "publish",
		trace.WithAttributes(attribute.String("platform", string(a.ID()))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.now()
	remoteID, err := a.Publish(ctx, post.Body, post.MediaURL)
	res.Latency = d.now().Sub(start)
	publishLatency.WithLabelValues(string(a.ID())).Observe(res.Latency.Seconds())

	if err != nil {
		res.ErrorCode = errorCode(err)
		publishTotal.WithLabelValues(string(a.ID()), res.ErrorCode).Inc()
		span.RecordError(err)
		return
	}
	res.OK = true
	res.RemoteID = remoteID
	publishTotal.WithLabelValues(string(a.ID()), "ok").Inc()
}

// FetchAggregatedFeed serves from the cache while the entry is live, and
// otherwise fans the fetch out, merges, encrypts and stores the result.
func (d *Dispatcher) FetchAggregatedFeed(ctx context.Context, userID string, platforms []platform.ID, sample *policy.Sample) (*Feed, error) {
	if len(platforms) == 0 {
		return nil, ErrNoPlatforms
	}
	pol, err := d.preflight(ctx, userID, sample)
	if err != nil {
		return nil, err
	}

	entry, ok, err := d.cache.Get(ctx, userID)
	if err != nil {
		// Serve from the platforms instead, but a failing cache backend
		// must not be invisible.
		log.Printf("feed cache get user=%s: %v", userID, err)
	}
	if err == nil && ok {
		plaintext, err := d.keys.Decrypt(userID, entry.Ciphertext, entry.KeyID)
		if err != nil {
			// KeyNotFound is a rotation bookkeeping defect; surface it.
			return nil, err
		}
		var posts []platform.RemotePost
		if err := json.Unmarshal(plaintext, &posts); err != nil {
			return nil, fmt.Errorf("decode cached feed: %w", err)
		}
		feedCacheHits.Inc()
		return &Feed{
			UserID:    userID,
			Posts:     posts,
			UpdatedAt: entry.LastUpdated,
			FromCache: true,
		}, nil
	}
	feedCacheMisses.Inc()

	type fetchOut struct {
		posts []platform.RemotePost
		err   error
	}
	outs := make([]fetchOut, len(platforms))
	var wg sync.WaitGroup

	for i, target := range platforms {
		adapter, err := d.adapters.Get(target)
		if err != nil {
			outs[i].err = err
			continue
		}
		granted, err := d.limiter.TryAdmit(ctx, rateKey(userID, pol.Tier), pol.RateLimit, pol.RateWindow, 1)
		if err != nil || !granted {
			outs[i].err = fmt.Errorf("%s: %s", target, CodeRateLimited)
			rateLimitedTotal.Inc()
			continue
		}

		wg.Add(1)
		go func(i int, a platform.Adapter) {
			defer wg.Done()
			fctx, span := d.tracer.Start(ctx, "fetch",
				trace.WithAttributes(attribute.String("platform", string(a.ID()))))
			defer span.End()
			fctx, cancel := context.WithTimeout(fctx, pol.PlatformTimeout)
			defer cancel()
			posts, err := a.Fetch(fctx, userID, "")
			if err != nil {
				span.RecordError(err)
			}
			outs[i] = fetchOut{posts: posts, err: err}
		}(i, adapter)
	}
	wg.Wait()

	merged := make([]platform.RemotePost, 0)
	fetchErrs := make(map[platform.ID]string)
	for i, target := range platforms {
		if outs[i].err != nil {
			fetchErrs[target] = outs[i].err.Error()
			continue
		}
		merged = append(merged, outs[i].posts...)
	}
	sortFeed(merged)

	now := d.now().UTC()
	feed := &Feed{
		UserID:    userID,
		Posts:     merged,
		UpdatedAt: now,
	}
	if len(fetchErrs) > 0 {
		feed.Errors = fetchErrs
	}

	// A page where every platform failed is not worth caching; the next
	// call should try the platforms again.
	if len(fetchErrs) < len(platforms) {
		if err := d.storeFeed(ctx, userID, pol, merged, now); err != nil {
			return nil, err
		}
	}
	return feed, nil
}

// sortFeed orders newest first; ties break by platform id ascending, then
// remote id ascending, so output is deterministic across network timing.
func sortFeed(posts []platform.RemotePost) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.RemoteID < b.RemoteID
	})
}

func (d *Dispatcher) storeFeed(ctx context.Context, userID string, pol policy.ResolvedPolicy, posts []platform.RemotePost, now time.Time) error {
	if _, err := d.keys.RotateIfDue(userID, pol.KeyRotationInterval, now); err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}
	plaintext, err := json.Marshal(posts)
	if err != nil {
		return err
	}
	ciphertext, keyID, err := d.keys.Encrypt(userID, plaintext, pol.KeyRotationInterval)
	if err != nil {
		return fmt.Errorf("encrypt feed: %w", err)
	}

	d.syncProfileKey(ctx, userID, keyID, now)

	return d.cache.Put(ctx, &feedcache.Entry{
		UserID:      userID,
		Ciphertext:  ciphertext,
		KeyID:       keyID,
		LastUpdated: now,
		ExpiresAt:   now.Add(pol.CacheTTL),
	})
}

// syncProfileKey records the active key id on the profile so settings views
// can show it; failure here never fails the feed path.
func (d *Dispatcher) syncProfileKey(ctx context.Context, userID, keyID string, now time.Time) {
	p, err := d.profiles.Get(ctx, userID)
	if err != nil || p.ActiveKeyID == keyID {
		return
	}
	p.ActiveKeyID = keyID
	p.KeyCreatedAt = now
	_ = d.profiles.Save(ctx, p)
}

// DeleteAcrossPlatforms fans delete out to the platforms that hold a
// successful publish for the post. Missing or failed platforms are skipped,
// never retried.
func (d *Dispatcher) DeleteAcrossPlatforms(ctx context.Context, userID, postID string, platforms []platform.ID) ([]DeleteResult, error) {
	p, err := d.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	pol := d.policies.Resolve(p.Subject())

	d.mu.Lock()
	published := make(map[platform.ID]string)
	for _, r := range d.results[postID] {
		if r.OK {
			published[r.Platform] = r.RemoteID
		}
	}
	d.mu.Unlock()

	results := make([]DeleteResult, len(platforms))
	var wg sync.WaitGroup

	for i, target := range platforms {
		results[i] = DeleteResult{Platform: target}

		remoteID, ok := published[target]
		if !ok {
			results[i].Skipped = true
			continue
		}
		adapter, err := d.adapters.Get(target)
		if err != nil {
			results[i].ErrorCode = CodeNoAdapter
			continue
		}

		// Deletes draw from the same admission bucket as publishes and
		// fetches, one token per target platform.
		granted, err := d.limiter.TryAdmit(ctx, rateKey(userID, pol.Tier), pol.RateLimit, pol.RateWindow, 1)
		if err != nil || !granted {
			results[i].ErrorCode = CodeRateLimited
			rateLimitedTotal.Inc()
			continue
		}

		wg.Add(1)
		go func(i int, a platform.Adapter, remoteID string) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, pol.PlatformTimeout)
			defer cancel()
			if err := a.Delete(dctx, remoteID); err != nil {
				results[i].ErrorCode = errorCode(err)
				return
			}
			results[i].OK = true
		}(i, adapter, remoteID)
	}
	wg.Wait()

	d.evictDeleted(postID, results)
	return results, nil
}

// evictDeleted drops successfully deleted platforms from the publish
// bookkeeping, and the whole entry once nothing deletable remains, so the
// map does not grow with every post a long-lived process ever published.
func (d *Dispatcher) evictDeleted(postID string, deleted []DeleteResult) {
	removed := make(map[platform.ID]bool)
	for _, r := range deleted {
		if r.OK {
			removed[r.Platform] = true
		}
	}
	if len(removed) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := d.results[postID][:0]
	for _, r := range d.results[postID] {
		if r.OK && removed[r.Platform] {
			continue
		}
		remaining = append(remaining, r)
	}
	deletable := false
	for _, r := range remaining {
		if r.OK {
			deletable = true
			break
		}
	}
	if !deletable {
		delete(d.results, postID)
		return
	}
	d.results[postID] = remaining
}

// OnPrivacyProfileUpdated is the settings-change hook. Policy is re-resolved
// on every operation anyway; the hook additionally drops the cached feed so
// data stored under the old tier's TTL cannot linger.
func (d *Dispatcher) OnPrivacyProfileUpdated(ctx context.Context, userID string) error {
	return d.cache.Delete(ctx, userID)
}
