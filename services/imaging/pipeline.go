// Package imaging resolves opaque storage keys to time-limited display URLs
// via the storage-signing collaborator, batched with per-key failure
// isolation.
package imaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"fleetwatch/services/feed"
)

// DefaultURLTTL is how long a resolved URL stays valid when no TTL is
// configured.
const DefaultURLTTL = 15 * time.Minute

// Signer is the storage-signing collaborator: it turns a storage key in a
// bucket into a time-limited URL.
type Signer interface {
	SignURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Result is the outcome of resolving one key. A batch produces one Result per
// key; one key's failure never fails the batch.
type Result struct {
	Key string
	URL string
	Err error
}

// URLMap collapses a batch into key -> URL, keeping successes only. A key
// absent from the map failed and may be explicitly re-requested; absence is
// never a terminal error.
func URLMap(results []Result) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.Err == nil {
			out[r.Key] = r.URL
		}
	}
	return out
}

// Pipeline fans resolution requests out to the signer and caches successful
// URLs. Cache entries are not durable: an evicted or invalidated key is
// simply re-resolved on the next request.
type Pipeline struct {
	signer Signer
	bucket string
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]string
}

// New constructs a Pipeline for the given bucket.
func New(signer Signer, bucket string, ttl time.Duration) (*Pipeline, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Pipeline{
		signer: signer,
		bucket: bucket,
		ttl:    ttl,
		cache:  make(map[string]string),
	}, nil
}

// Resolve signs each key independently and joins the per-key results. An
// empty token or key set short-circuits to a no-op without contacting the
// signer. Duplicate keys are resolved once.
func (p *Pipeline) Resolve(ctx context.Context, token string, keys []string) []Result {
	results := make([]Result, 0, len(keys))
	p.resolve(ctx, token, keys, func(r Result) {
		results = append(results, r)
	})
	return results
}

// resolve fans out one signing call per distinct key and invokes apply for
// each result as soon as it is known. apply runs on a single goroutine, in
// completion order, and has returned for every key when resolve returns.
func (p *Pipeline) resolve(ctx context.Context, token string, keys []string, apply func(Result)) {
	if token == "" || len(keys) == 0 {
		return
	}

	distinct := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, k)
	}
	if len(distinct) == 0 {
		return
	}

	out := make(chan Result, len(distinct))
	var wg sync.WaitGroup
	for _, key := range distinct {
		if url, ok := p.cached(key); ok {
			out <- Result{Key: key, URL: url}
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			url, err := p.signer.SignURL(ctx, p.bucket, key, p.ttl)
			if err != nil {
				resolutionFailures.Inc()
				out <- Result{Key: key, Err: err}
				return
			}
			p.store(key, url)
			out <- Result{Key: key, URL: url}
		}(key)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for r := range out {
		apply(r)
	}
}

// CachedURL reports the resolved URL for key if one is cached.
func (p *Pipeline) CachedURL(key string) (string, bool) {
	return p.cached(key)
}

// Invalidate drops a cached URL so the next request re-resolves the key,
// e.g. once its signed TTL has lapsed.
func (p *Pipeline) Invalidate(key string) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}

func (p *Pipeline) cached(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	url, ok := p.cache[key]
	return url, ok
}

func (p *Pipeline) store(key, url string) {
	p.mu.Lock()
	p.cache[key] = url
	p.mu.Unlock()
}

// ResolveEvents resolves the image keys of every not-yet-requested event in
// the slice and advances each event's image state in the buffer. Events move
// to requested as the batch starts; each event then progresses independently
// as its own keys complete: any failed key marks it failed, all keys resolved
// marks it loaded. Other events are unaffected by a neighbour's failure.
// The returned results cover every distinct key in the batch.
func (p *Pipeline) ResolveEvents(ctx context.Context, token string, events []feed.Event, buf *feed.Buffer) []Result {
	if token == "" || len(events) == 0 || buf == nil {
		return nil
	}

	type progress struct {
		pending int
		failed  bool
	}

	owners := make(map[string][]string) // key -> owning event ids
	remaining := make(map[string]*progress)
	var keys []string

	for _, e := range events {
		ks := e.ImageKeys()
		if len(ks) == 0 || e.ImageState != feed.ImageNotRequested {
			continue
		}
		if !buf.SetImageState(e.ID, feed.ImageRequested) {
			continue
		}
		remaining[e.ID] = &progress{pending: len(ks)}
		for _, k := range ks {
			owners[k] = append(owners[k], e.ID)
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	results := make([]Result, 0, len(keys))
	p.resolve(ctx, token, keys, func(r Result) {
		results = append(results, r)
		for _, id := range owners[r.Key] {
			pr := remaining[id]
			if pr == nil {
				continue
			}
			pr.pending--
			if r.Err != nil && !pr.failed {
				pr.failed = true
				buf.SetImageState(id, feed.ImageFailed)
			}
			if pr.pending == 0 && !pr.failed {
				buf.SetImageState(id, feed.ImageLoaded)
			}
		}
	})
	return results
}
