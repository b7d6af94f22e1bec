// Package clip maintains a rolling cache of livestream media segments and
// assembles clips from them on demand.
package clip

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/rumble-actor/internal/telemetry"
)

// Segment is one media chunk of the stream playlist. Seq increases
// monotonically within a session.
type Segment struct {
	Seq      int
	URL      string
	Duration time.Duration
}

// Source exposes the stream's segment playlists.
type Source interface {
	// Playlist returns the currently advertised segments for a quality,
	// oldest first.
	Playlist(ctx context.Context, quality string) ([]Segment, error)
	// Download fetches one segment into dest.
	Download(ctx context.Context, quality string, seg Segment, dest string) error
}

// Mode selects how the cache obtains footage.
type Mode int

const (
	// ModeBuffer keeps a rolling ring of downloaded segments.
	ModeBuffer Mode = iota
	// ModeDVR downloads nothing until a clip is requested, then pulls the
	// needed tail of the playlist. Cheaper, but only works while the
	// platform still advertises old segments.
	ModeDVR
)

type Options struct {
	Dir         string
	Mode        Mode
	MaxDuration time.Duration
	// Qualities in ascending preference order.
	Qualities     []string
	SpeedFactor   float64
	BenchmarkIter int
	PollInterval  time.Duration
}

// Cache buffers recent stream segments so clips can be cut from the live
// past. All exported methods are safe for concurrent use.
type Cache struct {
	src  Source
	opts Options

	quality string

	mu       sync.Mutex
	ring     []cachedSegment
	lastSeq  int
	primed   bool
	inFlight int
}

type cachedSegment struct {
	seg  Segment
	path string
}

func NewCache(src Source, opts Options) *Cache {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SpeedFactor < 1 {
		opts.SpeedFactor = 1
	}
	if opts.BenchmarkIter <= 0 {
		opts.BenchmarkIter = 5
	}
	return &Cache{src: src, opts: opts, lastSeq: -1}
}

// Quality returns the stream quality selected by Prime.
func (c *Cache) Quality() string { return c.quality }

// Prime benchmarks the candidate qualities and selects the best usable one.
// A quality is usable when downloading a segment takes no more than the
// segment's duration divided by the speed factor, averaged over the
// benchmark iterations. Candidates are tried in ascending preference order
// and the last usable one wins.
func (c *Cache) Prime(ctx context.Context) error {
	if len(c.opts.Qualities) == 0 {
		return errors.New("no candidate qualities")
	}
	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	selected := ""
	for _, q := range c.opts.Qualities {
		usable, avg, segDur, err := c.benchmark(ctx, q)
		if err != nil {
			slog.Warn("quality benchmark failed", "quality", q, "err", err)
			continue
		}
		slog.Info("quality benchmark", "quality", q, "avg_download", avg, "segment", segDur, "usable", usable)
		if usable {
			selected = q
		}
	}
	if selected == "" {
		return errors.New("no quality downloads fast enough")
	}
	c.quality = selected
	slog.Info("stream quality selected", "quality", selected)
	return nil
}

func (c *Cache) benchmark(ctx context.Context, quality string) (usable bool, avg, segDur time.Duration, err error) {
	segments, err := c.src.Playlist(ctx, quality)
	if err != nil {
		return false, 0, 0, err
	}
	if len(segments) == 0 {
		return false, 0, 0, errors.New("empty playlist")
	}

	var total time.Duration
	iter := c.opts.BenchmarkIter
	newest := segments[len(segments)-1]
	segDur = newest.Duration
	for i := 0; i < iter; i++ {
		dest := filepath.Join(c.opts.Dir, fmt.Sprintf(".bench-%s-%d.ts", quality, i))
		start := time.Now()
		if err := c.src.Download(ctx, quality, newest, dest); err != nil {
			return false, 0, 0, err
		}
		elapsed := time.Since(start)
		telemetry.SegmentDownload.Observe(elapsed.Seconds())
		total += elapsed
		_ = os.Remove(dest)
	}
	avg = total / time.Duration(iter)
	usable = avg <= time.Duration(float64(segDur)/c.opts.SpeedFactor)
	return usable, avg, segDur, nil
}

// Run keeps the ring buffer current until ctx is canceled. It is a no-op in
// DVR mode.
func (c *Cache) Run(ctx context.Context) error {
	if c.opts.Mode == ModeDVR {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.quality == "" {
		return errors.New("cache not primed")
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := c.fill(ctx); err != nil {
			slog.Warn("segment fill failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cache) fill(ctx context.Context) error {
	segments, err := c.src.Playlist(ctx, c.quality)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	fresh := c.selectFresh(segments)
	for _, seg := range fresh {
		dest := filepath.Join(c.opts.Dir, fmt.Sprintf("seg-%09d.ts", seg.Seq))
		start := time.Now()
		if err := c.src.Download(ctx, c.quality, seg, dest); err != nil {
			return errors.Wrapf(err, "download segment %d", seg.Seq)
		}
		telemetry.SegmentDownload.Observe(time.Since(start).Seconds())
		c.store(seg, dest)
	}
	c.evict()
	return nil
}

// selectFresh picks the segments Run still needs. The very first pass takes
// only the newest segment so startup does not chase the whole playlist.
func (c *Cache) selectFresh(segments []Segment) []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.primed {
		c.primed = true
		newest := segments[len(segments)-1]
		c.lastSeq = newest.Seq
		return []Segment{newest}
	}
	var fresh []Segment
	for _, seg := range segments {
		if seg.Seq > c.lastSeq {
			fresh = append(fresh, seg)
			c.lastSeq = seg.Seq
		}
	}
	return fresh
}

func (c *Cache) store(seg Segment, path string) {
	c.mu.Lock()
	c.ring = append(c.ring, cachedSegment{seg: seg, path: path})
	c.mu.Unlock()
	telemetry.SegmentsCached.Inc()
}

// evict drops oldest segments while the ring holds more than MaxDuration of
// footage beyond the current segment. Eviction pauses while a clip save is
// in flight so its segments stay on disk.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		return
	}
	for len(c.ring) > 1 {
		var dur time.Duration
		for _, s := range c.ring[:len(c.ring)-1] {
			dur += s.seg.Duration
		}
		if dur <= c.opts.MaxDuration {
			break
		}
		oldest := c.ring[0]
		c.ring = c.ring[1:]
		_ = os.Remove(oldest.path)
		telemetry.SegmentsEvicted.Inc()
	}
}

// beginSave marks a clip save in flight, pausing eviction.
func (c *Cache) beginSave() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
}

func (c *Cache) endSave() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mu.Unlock()
}

// Tail returns the file paths of the most recent segments covering at least
// duration, oldest first. In DVR mode the segments are downloaded now.
func (c *Cache) Tail(ctx context.Context, duration time.Duration) ([]string, error) {
	if c.opts.Mode == ModeDVR {
		return c.dvrTail(ctx, duration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ring) == 0 {
		return nil, errors.New("no footage buffered yet")
	}
	var (
		covered time.Duration
		start   = len(c.ring)
	)
	for start > 0 && covered < duration {
		start--
		covered += c.ring[start].seg.Duration
	}
	paths := make([]string, 0, len(c.ring)-start)
	for _, s := range c.ring[start:] {
		paths = append(paths, s.path)
	}
	return paths, nil
}

func (c *Cache) dvrTail(ctx context.Context, duration time.Duration) ([]string, error) {
	if c.quality == "" {
		return nil, errors.New("cache not primed")
	}
	segments, err := c.src.Playlist(ctx, c.quality)
	if err != nil {
		return nil, errors.Wrap(err, "dvr playlist")
	}
	if len(segments) == 0 {
		return nil, errors.New("empty playlist")
	}
	var (
		covered time.Duration
		start   = len(segments)
	)
	for start > 0 && covered < duration {
		start--
		covered += segments[start].Duration
	}
	var paths []string
	for _, seg := range segments[start:] {
		dest := filepath.Join(c.opts.Dir, fmt.Sprintf("dvr-%09d.ts", seg.Seq))
		if _, statErr := os.Stat(dest); statErr != nil {
			begin := time.Now()
			if err := c.src.Download(ctx, c.quality, seg, dest); err != nil {
				return nil, errors.Wrapf(err, "download segment %d", seg.Seq)
			}
			telemetry.SegmentDownload.Observe(time.Since(begin).Seconds())
			telemetry.SegmentsCached.Inc()
		}
		paths = append(paths, dest)
	}
	return paths, nil
}
