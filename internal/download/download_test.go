package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/backoff"
	"go.uber.org/zap"
)

// fakeResolver serves presigned URLs pointing at a test server, or fails
// signing to exercise the public URL fallback.
type fakeResolver struct {
	presignedURL string
	presignErr   error
	publicURL    string
	presignCalls atomic.Int32
	publicCalls  atomic.Int32
}

func (r *fakeResolver) PresignedSourceURL(ctx context.Context, key string) (string, error) {
	r.presignCalls.Add(1)
	if r.presignErr != nil {
		return "", r.presignErr
	}
	return r.presignedURL, nil
}

func (r *fakeResolver) PublicSourceURL(key string) string {
	r.publicCalls.Add(1)
	return r.publicURL
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, MaxAttempts: 3}
}

func TestFetchSuccessFirstAttempt(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, "video-bytes")
	}))
	defer srv.Close()

	resolver := &fakeResolver{presignedURL: srv.URL}
	d := NewDownloader(resolver, fastPolicy(), 5*time.Second, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	if err := d.Fetch(context.Background(), "raw/v1.mp4", dest); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Errorf("downloaded content = %q, expected %q", data, "video-bytes")
	}
	if requests.Load() != 1 {
		t.Errorf("server saw %d requests, expected 1 (no retry consumed)", requests.Load())
	}
}

func TestFetchRetriesThenFails(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := &fakeResolver{presignedURL: srv.URL}
	d := NewDownloader(resolver, fastPolicy(), 5*time.Second, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	err := d.Fetch(context.Background(), "raw/v1.mp4", dest)
	if err == nil {
		t.Fatal("Fetch() succeeded, expected error")
	}

	var dlErr *Error
	if !errors.As(err, &dlErr) {
		t.Fatalf("Fetch() error type = %T, expected *download.Error", err)
	}
	if dlErr.Attempts != 3 {
		t.Errorf("Attempts = %d, expected 3", dlErr.Attempts)
	}
	if requests.Load() != 3 {
		t.Errorf("server saw %d requests, expected 3", requests.Load())
	}
}

func TestFetchRecoversOnSecondAttempt(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resolver := &fakeResolver{presignedURL: srv.URL}
	d := NewDownloader(resolver, fastPolicy(), 5*time.Second, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	if err := d.Fetch(context.Background(), "raw/v1.mp4", dest); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("server saw %d requests, expected 2", requests.Load())
	}
}

func TestFetchPublicURLFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "public-bytes")
	}))
	defer srv.Close()

	resolver := &fakeResolver{
		presignErr: errors.New("presign unsupported"),
		publicURL:  srv.URL,
	}
	d := NewDownloader(resolver, fastPolicy(), 5*time.Second, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	if err := d.Fetch(context.Background(), "raw/v1.mp4", dest); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resolver.publicCalls.Load() == 0 {
		t.Error("public URL fallback was not used")
	}
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with no body
	}))
	defer srv.Close()

	resolver := &fakeResolver{presignedURL: srv.URL}
	d := NewDownloader(resolver, backoff.Policy{Base: time.Millisecond, MaxAttempts: 1}, 5*time.Second, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	if err := d.Fetch(context.Background(), "raw/v1.mp4", dest); err == nil {
		t.Error("Fetch() succeeded on empty body, expected error")
	}
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	resolver := &fakeResolver{presignedURL: srv.URL}
	d := NewDownloader(resolver, backoff.Policy{Base: time.Millisecond, MaxAttempts: 1}, 50*time.Millisecond, zap.NewNop())

	dest := filepath.Join(t.TempDir(), "source.mp4")
	start := time.Now()
	err := d.Fetch(context.Background(), "raw/v1.mp4", dest)
	if err == nil {
		t.Fatal("Fetch() succeeded, expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch() took %v, timeout did not bound the attempt", elapsed)
	}
}
