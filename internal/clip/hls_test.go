package clip

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const masterFixture = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
720p/playlist.m3u8
`

const mediaFixture = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-MEDIA-SEQUENCE:42
#EXT-X-TARGETDURATION:10
#EXTINF:10.000,
seg42.ts
#EXTINF:9.500,
seg43.ts
#EXTINF:10.000,
seg44.ts
`

func hlsServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, masterFixture)
	})
	mux.HandleFunc("/720p/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaFixture)
	})
	mux.HandleFunc("/720p/seg43.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHLSPlaylist(t *testing.T) {
	srv := hlsServer(t)
	src := NewHLSSource(srv.URL + "/master.m3u8")

	segments, err := src.Playlist(context.Background(), "720p")
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 3 {
		t.Fatalf("segments = %v", segments)
	}
	if segments[0].Seq != 42 || segments[2].Seq != 44 {
		t.Fatalf("sequence numbers = %d..%d", segments[0].Seq, segments[2].Seq)
	}
	if segments[1].Duration != 9500*time.Millisecond {
		t.Fatalf("duration = %v", segments[1].Duration)
	}
	if segments[1].URL != srv.URL+"/720p/seg43.ts" {
		t.Fatalf("url = %q", segments[1].URL)
	}
}

func TestHLSPlaylistUnknownQuality(t *testing.T) {
	srv := hlsServer(t)
	src := NewHLSSource(srv.URL + "/master.m3u8")
	if _, err := src.Playlist(context.Background(), "1080p"); err == nil {
		t.Fatal("expected error for unadvertised quality")
	}
}

func TestHLSDownload(t *testing.T) {
	srv := hlsServer(t)
	src := NewHLSSource(srv.URL + "/master.m3u8")
	segments, err := src.Playlist(context.Background(), "720p")
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "seg.ts")
	if err := src.Download(context.Background(), "720p", segments[1], dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "segment bytes" {
		t.Fatalf("data = %q", data)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestParseMasterPlaylistEmpty(t *testing.T) {
	if _, err := parseMasterPlaylist("#EXTM3U\n", "http://x/master.m3u8"); err == nil {
		t.Fatal("expected error for empty master playlist")
	}
}
