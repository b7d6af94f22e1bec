package clip

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/rumble-actor/internal/telemetry"
)

// Trimmer cuts the final duration out of a recording file.
type Trimmer interface {
	Trim(ctx context.Context, src, dest string, duration time.Duration) error
}

// RecordTrimmer clips from a local recording that is still being written,
// for setups where the streamer records to disk. The growing file is frozen
// into a temporary copy first so the trim works on stable input.
type RecordTrimmer struct {
	recordPath string
	trimmer    Trimmer
	uploader   Uploader
	saveDir    string
}

func NewRecordTrimmer(recordPath string, trimmer Trimmer, uploader Uploader, saveDir string) *RecordTrimmer {
	return &RecordTrimmer{recordPath: recordPath, trimmer: trimmer, uploader: uploader, saveDir: saveDir}
}

// Save asynchronously clips the last duration of the recording.
func (r *RecordTrimmer) Save(ctx context.Context, name string, duration time.Duration) *Job {
	job := &Job{
		ID:       uuid.NewString(),
		Name:     name,
		Duration: duration,
		Done:     make(chan struct{}),
	}
	go func() {
		defer close(job.Done)
		if err := r.run(ctx, job); err != nil {
			job.Err = err
			telemetry.ClipsFailed.Inc()
			slog.Error("record trim failed", "job", job.ID, "err", err)
			return
		}
		telemetry.ClipsAssembled.Inc()
		slog.Info("clip trimmed from recording", "job", job.ID, "path", job.Path)
	}()
	return job
}

func (r *RecordTrimmer) run(ctx context.Context, job *Job) error {
	frozen, err := freezeCopy(r.recordPath)
	if err != nil {
		return err
	}
	defer os.Remove(frozen)

	if err := os.MkdirAll(r.saveDir, 0o755); err != nil {
		return errors.Wrap(err, "create save dir")
	}
	base := job.Name
	if base == "" {
		base = time.Now().Format("2006-01-02_15-04-05")
	}
	dest, err := availableName(r.saveDir, "clip_"+sanitize(base), ".mp4")
	if err != nil {
		return err
	}
	if err := r.trimmer.Trim(ctx, frozen, dest, job.Duration); err != nil {
		return errors.Wrap(err, "trim recording")
	}
	job.Path = dest

	if r.uploader != nil {
		url, err := r.uploader.Upload(ctx, dest)
		if err != nil {
			return errors.Wrap(err, "upload clip")
		}
		job.URL = url
	}
	return nil
}

// freezeCopy snapshots the still-growing recording into a temp file.
func freezeCopy(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open recording")
	}
	defer src.Close()

	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".ts"
	}
	tmp, err := os.CreateTemp("", "frozen-*"+strings.ToLower(ext))
	if err != nil {
		return "", errors.Wrap(err, "create frozen copy")
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "copy recording")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "close frozen copy")
	}
	return tmp.Name(), nil
}

// FFmpegTrimmer keeps the last duration of src using stream copy.
type FFmpegTrimmer struct {
	Binary string
}

func (f FFmpegTrimmer) Trim(ctx context.Context, src, dest string, duration time.Duration) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-y", "-sseof", "-"+strconv.FormatFloat(duration.Seconds(), 'f', 3, 64),
		"-i", src, "-c", "copy", dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(string(out)))
	}
	return nil
}
