package clip

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/rumble-actor/internal/telemetry"
)

// Concatenator joins segment files into one output file.
type Concatenator interface {
	Concat(ctx context.Context, segments []string, dest string) error
}

// Uploader publishes a finished clip somewhere and returns its URL. A nil
// uploader leaves clips on disk only.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Job tracks one asynchronous clip save.
type Job struct {
	ID       string
	Name     string
	Duration time.Duration
	Path     string
	URL      string
	Err      error
	Done     chan struct{}
}

// Assembler cuts clips out of the cache and hands them to the uploader.
type Assembler struct {
	cache    *Cache
	concat   Concatenator
	uploader Uploader
	saveDir  string
}

func NewAssembler(cache *Cache, concat Concatenator, uploader Uploader, saveDir string) *Assembler {
	return &Assembler{cache: cache, concat: concat, uploader: uploader, saveDir: saveDir}
}

// Save starts an asynchronous clip save of the last duration of footage and
// returns the job immediately. name may be empty; the timestamp then names
// the clip.
func (a *Assembler) Save(ctx context.Context, name string, duration time.Duration) *Job {
	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Duration: duration,
		Done:     make(chan struct{}),
	}
	a.cache.beginSave()
	go func() {
		defer close(job.Done)
		defer a.cache.endSave()
		if err := a.run(ctx, job); err != nil {
			job.Err = err
			telemetry.ClipsFailed.Inc()
			slog.Error("clip save failed", "job", job.ID, "err", err)
			return
		}
		telemetry.ClipsAssembled.Inc()
		slog.Info("clip saved", "job", job.ID, "path", job.Path, "url", job.URL)
	}()
	return job
}

func (a *Assembler) run(ctx context.Context, job *Job) error {
	segments, err := a.cache.Tail(ctx, job.Duration)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(a.saveDir, 0o755); err != nil {
		return errors.Wrap(err, "create save dir")
	}

	base := job.Name
	if base == "" {
		base = time.Now().Format("2006-01-02_15-04-05")
	}
	dest, err := availableName(a.saveDir, "clip_"+sanitize(base), ".mp4")
	if err != nil {
		return err
	}
	if err := a.concat.Concat(ctx, segments, dest); err != nil {
		return errors.Wrap(err, "concatenate segments")
	}
	job.Path = dest

	if a.uploader != nil {
		url, err := a.uploader.Upload(ctx, dest)
		if err != nil {
			return errors.Wrap(err, "upload clip")
		}
		job.URL = url
	}
	return nil
}

// availableName returns dir/base+ext, appending "(n)" before the extension
// until the name is free.
func availableName(dir, base, ext string) (string, error) {
	candidate := filepath.Join(dir, base+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return candidate, nil
			}
			return "", errors.Wrap(err, "stat clip name")
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, n, ext))
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, name)
}

// FFmpegConcatenator shells out to ffmpeg with a concat list file.
type FFmpegConcatenator struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

func (f FFmpegConcatenator) Concat(ctx context.Context, segments []string, dest string) error {
	if len(segments) == 0 {
		return errors.New("no segments to concatenate")
	}
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	list, err := os.CreateTemp("", "cliplist-*.txt")
	if err != nil {
		return errors.Wrap(err, "create concat list")
	}
	defer os.Remove(list.Name())
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			abs = seg
		}
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return errors.Wrap(err, "close concat list")
	}

	cmd := exec.CommandContext(ctx, bin,
		"-y", "-f", "concat", "-safe", "0",
		"-i", list.Name(), "-c", "copy", dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(string(out)))
	}
	return nil
}
