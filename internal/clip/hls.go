package clip

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// HLSSource reads segment playlists from an HLS master playlist URL.
type HLSSource struct {
	masterURL string
	http      *http.Client

	mu       sync.Mutex
	variants map[string]string // quality label -> media playlist URL
}

func NewHLSSource(masterURL string) *HLSSource {
	return &HLSSource{
		masterURL: masterURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

var resolutionPattern = regexp.MustCompile(`RESOLUTION=\d+x(\d+)`)

// Playlist implements Source.
func (h *HLSSource) Playlist(ctx context.Context, quality string) ([]Segment, error) {
	mediaURL, err := h.variantURL(ctx, quality)
	if err != nil {
		return nil, err
	}
	body, err := h.get(ctx, mediaURL)
	if err != nil {
		return nil, errors.Wrap(err, "fetch media playlist")
	}
	return parseMediaPlaylist(body, mediaURL)
}

// Download implements Source.
func (h *HLSSource) Download(ctx context.Context, quality string, seg Segment, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "build segment request")
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetch segment")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("segment status %s", resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create segment file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write segment")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close segment file")
	}
	return errors.Wrap(os.Rename(tmp, dest), "finalize segment file")
}

func (h *HLSSource) variantURL(ctx context.Context, quality string) (string, error) {
	h.mu.Lock()
	if u, ok := h.variants[quality]; ok {
		h.mu.Unlock()
		return u, nil
	}
	h.mu.Unlock()

	body, err := h.get(ctx, h.masterURL)
	if err != nil {
		return "", errors.Wrap(err, "fetch master playlist")
	}
	variants, err := parseMasterPlaylist(body, h.masterURL)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.variants = variants
	u, ok := variants[quality]
	h.mu.Unlock()
	if !ok {
		return "", errors.Errorf("quality %s not advertised", quality)
	}
	return u, nil
}

func (h *HLSSource) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseMasterPlaylist maps quality labels (vertical resolution plus "p") to
// absolute media playlist URLs.
func parseMasterPlaylist(body, baseURL string) (map[string]string, error) {
	variants := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(body))
	pending := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			if m := resolutionPattern.FindStringSubmatch(line); m != nil {
				pending = m[1] + "p"
			} else {
				pending = ""
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if pending != "" {
			variants[pending] = resolveURL(baseURL, line)
			pending = ""
		}
	}
	if len(variants) == 0 {
		return nil, errors.New("no variants in master playlist")
	}
	return variants, nil
}

func parseMediaPlaylist(body, baseURL string) ([]Segment, error) {
	var (
		segments []Segment
		seq      int
		duration time.Duration
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")); err == nil {
				seq = n
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			raw := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			if i := strings.IndexByte(raw, ','); i >= 0 {
				raw = raw[:i]
			}
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				duration = time.Duration(f * float64(time.Second))
			}
		case line == "" || strings.HasPrefix(line, "#"):
		default:
			segments = append(segments, Segment{
				Seq:      seq,
				URL:      resolveURL(baseURL, line),
				Duration: duration,
			})
			seq++
			duration = 0
		}
	}
	if len(segments) == 0 {
		return nil, errors.New("no segments in media playlist")
	}
	return segments, nil
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// String identifies the source in logs.
func (h *HLSSource) String() string {
	return fmt.Sprintf("HLSSource{%s}", h.masterURL)
}
