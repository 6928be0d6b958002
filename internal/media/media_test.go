package media

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	cache, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}

	t.Run("get on a miss returns nil without error", func(t *testing.T) {
		data, err := cache.Get("missing")
		if err != nil {
			t.Fatalf("Expected no error on miss, got %v", err)
		}
		if data != nil {
			t.Errorf("Expected nil data on miss, got %v", data)
		}
	})

	t.Run("put then get round-trips", func(t *testing.T) {
		if err := cache.Put("key1", []byte("payload")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cache.Has("key1") {
			t.Error("Expected Has to report the stored key")
		}
		data, err := cache.Get("key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(data) != "payload" {
			t.Errorf("Expected payload, got %q", data)
		}
	})

	t.Run("first writer for a key wins", func(t *testing.T) {
		if err := cache.Put("key1", []byte("other")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		data, _ := cache.Get("key1")
		if string(data) != "payload" {
			t.Errorf("Expected original payload kept, got %q", data)
		}
	})
}

func TestTokenSource(t *testing.T) {
	var refreshes atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("Expected refresh_token grant, got %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			t.Errorf("Unexpected refresh token %q", r.PostForm.Get("refresh_token"))
		}
		refreshes.Add(1)
		w.Write([]byte(`{"access_token":"tok-1","expires_in":"3600"}`))
	}))
	defer server.Close()

	ts := NewTokenSource(server.Client(), server.URL, "refresh-1")

	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("Expected tok-1, got %q", token)
	}

	// A second call inside the expiry window must not refresh again.
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("Expected exactly 1 refresh, got %d", got)
	}

	// Force expiry; the next call refreshes.
	ts.mu.Lock()
	ts.expiresAt = time.Now().Add(-time.Second)
	ts.mu.Unlock()
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := refreshes.Load(); got != 2 {
		t.Errorf("Expected a second refresh after expiry, got %d", got)
	}
}

func TestFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/img/pic.jpg":
			w.Write([]byte("jpegbytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), server.URL+"/data/", nil)

	data, err := f.Fetch(context.Background(), "img/pic.jpg")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Errorf("Expected body, got %q", data)
	}

	if _, err := f.Fetch(context.Background(), "img/absent.jpg"); err == nil {
		t.Error("Expected an error for a 404 response")
	}
}

func TestResolver(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		switch r.URL.Path {
		case "/data/big.bin":
			w.Write(bytes.Repeat([]byte("x"), 2048))
		case "/data/broken.jpg":
			http.Error(w, "gone", http.StatusBadGateway)
		default:
			w.Write([]byte("blob:" + r.URL.Path))
		}
	}))
	defer server.Close()

	cache, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewFetcher(server.Client(), server.URL+"/data/", nil)
	resolver := NewResolver(cache, fetcher, Options{MaxBytes: 1024, Workers: 3})

	paths := []string{"a.jpg", "b.mp3", "big.bin", "broken.jpg"}

	var done atomic.Int64
	var lastTotal atomic.Int64
	resolver.ResolveAll(context.Background(), paths, func(d, total int) {
		done.Add(1)
		lastTotal.Store(int64(total))
	})

	t.Run("progress fires once per item regardless of outcome", func(t *testing.T) {
		if done.Load() != 4 || lastTotal.Load() != 4 {
			t.Errorf("Expected 4/4 progress reports, got %d/%d", done.Load(), lastTotal.Load())
		}
	})

	t.Run("successful fetches land in the cache", func(t *testing.T) {
		if !cache.Has(Key("a.jpg")) || !cache.Has(Key("b.mp3")) {
			t.Error("Expected fetched media to be cached")
		}
	})

	t.Run("oversized and failed media stay out of the cache", func(t *testing.T) {
		if cache.Has(Key("big.bin")) {
			t.Error("Expected oversized media to be discarded")
		}
		if cache.Has(Key("broken.jpg")) {
			t.Error("Expected failed media to be absent")
		}
	})

	t.Run("a second run over cached paths performs no fetches", func(t *testing.T) {
		before := fetches.Load()
		resolver.ResolveAll(context.Background(), []string{"a.jpg", "b.mp3"}, nil)
		if got := fetches.Load() - before; got != 0 {
			t.Errorf("Expected 0 network fetches for cached paths, got %d", got)
		}
	})
}

func TestTranscodeImage(t *testing.T) {
	// A 100x60 source PNG.
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 100, 60))); err != nil {
		t.Fatal(err)
	}

	t.Run("downscales to the maximum dimension", func(t *testing.T) {
		out, err := TranscodeImage(buf.Bytes(), 50, 85)
		if err != nil {
			t.Fatalf("TranscodeImage failed: %v", err)
		}
		img, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("Output did not decode: %v", err)
		}
		if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 30 {
			t.Errorf("Expected 50x30, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
		}
	})

	t.Run("never upscales", func(t *testing.T) {
		out, err := TranscodeImage(buf.Bytes(), 4096, 85)
		if err != nil {
			t.Fatalf("TranscodeImage failed: %v", err)
		}
		img, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("Output did not decode: %v", err)
		}
		if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 60 {
			t.Errorf("Expected original 100x60, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
		}
	})

	t.Run("rejects garbage input", func(t *testing.T) {
		if _, err := TranscodeImage([]byte("not an image"), 100, 85); err == nil {
			t.Error("Expected a decode error")
		}
	})
}

func TestIsConvertibleImage(t *testing.T) {
	for _, path := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp", "e.gif"} {
		if !IsConvertibleImage(path) {
			t.Errorf("Expected %q to be convertible", path)
		}
	}
	for _, path := range []string{"a.mp3", "b.svg", "noext"} {
		if IsConvertibleImage(path) {
			t.Errorf("Expected %q to not be convertible", path)
		}
	}
}
