// Package audiocache keeps recitation clips on local disk so playback can
// continue offline. Clips live in a content-addressed blob store and are
// indexed by reciter, bitrate and verse address.
package audiocache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/FocuswithJustin/tilawa/core/cas"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// MaxClipBytes bounds a single download.
const MaxClipBytes = 16 << 20

// Index records which blob holds which clip. *store.Store implements it.
type Index interface {
	PutAudio(ctx context.Context, key store.AudioKey, d cas.Digest) error
	LookupAudio(ctx context.Context, key store.AudioKey) (cas.Digest, bool, error)
	DeleteAudio(ctx context.Context, key store.AudioKey, sha string) (bool, error)
	AudioEntries(ctx context.Context, reciter, bitrate string) ([]store.AudioEntry, error)
	AudioStats(ctx context.Context) (store.AudioStats, error)
}

// Cache implements content.AudioSource over a remote source, answering
// CachedAudioLocation from local disk.
type Cache struct {
	blobs  *cas.Store
	index  Index
	remote content.AudioSource
	http   *http.Client
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient replaces the default 60s-timeout download client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Cache) { c.http = h }
}

// New returns a cache storing blobs in blobs and keys in index. remote
// resolves clip URLs; it defaults to the public CDN.
func New(blobs *cas.Store, index Index, remote content.AudioSource, opts ...Option) *Cache {
	if remote == nil {
		remote = content.CDN{}
	}
	c := &Cache{
		blobs:  blobs,
		index:  index,
		remote: remote,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveAudioLocation implements content.AudioSource.
func (c *Cache) ResolveAudioLocation(ctx context.Context, reciter string, g verse.GlobalIndex, bitrate string) (string, error) {
	return c.remote.ResolveAudioLocation(ctx, reciter, g, bitrate)
}

// CachedAudioLocation implements content.AudioSource. A row whose blob has
// gone missing is treated as a miss.
func (c *Cache) CachedAudioLocation(ctx context.Context, reciter, bitrate string, a verse.Address) (string, bool) {
	key := store.AudioKey{Reciter: reciter, Bitrate: bitrate, Address: a}
	d, ok, err := c.index.LookupAudio(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	p, err := c.blobs.Path(d.SHA256)
	if err != nil {
		logging.LoggerFromContext(ctx).Warn("audio index points at missing blob", "key", key.String(), "sha256", d.SHA256)
		return "", false
	}
	return p, true
}

// Fetch returns the local path of key, downloading it first if needed.
// Concurrent fetches of the same key share one download.
func (c *Cache) Fetch(ctx context.Context, key store.AudioKey) (string, error) {
	if p, ok := c.CachedAudioLocation(ctx, key.Reciter, key.Bitrate, key.Address); ok {
		return p, nil
	}
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.download(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) download(ctx context.Context, key store.AudioKey) (string, error) {
	if p, ok := c.CachedAudioLocation(ctx, key.Reciter, key.Bitrate, key.Address); ok {
		return p, nil
	}
	a := key.Address
	g, err := verse.ToGlobalIndex(a)
	if err != nil {
		return "", err
	}
	url, err := c.remote.ResolveAudioLocation(ctx, key.Reciter, g, key.Bitrate)
	if err != nil {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, err)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, fmt.Errorf("not downloadable: %s", url))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, err)
	}
	req.Header.Set("User-Agent", "tilawa/1.0")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, fmt.Errorf("GET %s: %s", url, resp.Status))
	}

	d, err := c.blobs.Put(io.LimitReader(resp.Body, MaxClipBytes+1))
	if err != nil {
		return "", errors.NewIO("store", key.String(), err)
	}
	if d.Size > MaxClipBytes {
		_ = c.blobs.Delete(d)
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, fmt.Errorf("clip exceeds %d bytes", MaxClipBytes))
	}
	if d.Size == 0 {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, fmt.Errorf("empty clip from %s", url))
	}
	if err := c.index.PutAudio(ctx, key, d); err != nil {
		return "", err
	}
	logging.LoggerFromContext(ctx).Debug("cached audio clip",
		"key", key.String(), "bytes", d.Size, "duration_ms", time.Since(start).Milliseconds())
	return c.blobs.Path(d.SHA256)
}

// Report summarises a bulk prefetch.
type Report struct {
	Requested int
	Fetched   int
	Failed    map[store.AudioKey]error
}

// FetchAll downloads keys with at most workers concurrent requests. Per-key
// failures are collected in the report; only cancellation aborts the run.
func (c *Cache) FetchAll(ctx context.Context, keys []store.AudioKey, workers int) (Report, error) {
	if workers < 1 {
		workers = 1
	}
	errs := make([]error, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		g.Go(func() error {
			if _, err := c.Fetch(gctx, k); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	rep := Report{Requested: len(keys), Failed: map[store.AudioKey]error{}}
	for i, err := range errs {
		if err != nil {
			rep.Failed[keys[i]] = err
		} else {
			rep.Fetched++
		}
	}
	return rep, nil
}

// Evict removes a clip from the index and drops its blob when nothing else
// references it.
func (c *Cache) Evict(ctx context.Context, key store.AudioKey) error {
	d, ok, err := c.index.LookupAudio(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFound("cached clip", key.String())
	}
	shared, err := c.index.DeleteAudio(ctx, key, d.SHA256)
	if err != nil {
		return err
	}
	if shared {
		return nil
	}
	if err := c.blobs.Delete(d); err != nil && !errors.Is(err, cas.ErrBlobNotFound) {
		return err
	}
	return nil
}

// Verify rehashes every indexed clip of a reciter and bitrate and evicts
// the ones whose content no longer matches.
func (c *Cache) Verify(ctx context.Context, reciter, bitrate string) ([]store.AudioKey, error) {
	entries, err := c.index.AudioEntries(ctx, reciter, bitrate)
	if err != nil {
		return nil, err
	}
	var bad []store.AudioKey
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		if err := c.blobs.Verify(e.Digest); err != nil {
			bad = append(bad, e.Key)
			if err := c.Evict(ctx, e.Key); err != nil {
				return bad, err
			}
		}
	}
	return bad, nil
}

// Stats combines index counts with on-disk usage.
type Stats struct {
	store.AudioStats
	Blobs     int   `json:"blobs"`
	DiskBytes int64 `json:"disk_bytes"`
}

// Stats reports cache usage.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st, err := c.index.AudioStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{AudioStats: st}
	err = c.blobs.Walk(func(_ string, size int64) error {
		out.Blobs++
		out.DiskBytes += size
		return nil
	})
	return out, err
}

var _ content.AudioSource = (*Cache)(nil)
