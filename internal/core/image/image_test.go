package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/infrastructure/storage"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestKeywords(t *testing.T) {
	cases := map[string][]string{
		"Omas beste Käsespätzle mit Röstzwiebeln": {"kasespatzle", "rostzwiebeln"},
		"Schnelle Gemüse-Suppe für 4 Personen":    {"gemuse", "suppe", "personen"},
		"The BEST homemade Crème Brûlée recipe":   {"creme", "brulee"},
		"Weißwurst und Brezn":                     {"weisswurst", "brezn"},
		"Pasta pasta PASTA":                       {"pasta"},
		"":                                        {},
	}
	for title, want := range cases {
		assert.Equal(t, want, Keywords(title), title)
	}
	assert.Len(t, Keywords("tomato basil mozzarella olive bread"), MaxKeywords)
}

func TestKeywordsConcurrent(t *testing.T) {
	const title = "Überbackene Käsespätzle mit Röstzwiebeln"
	want := []string{"uberbackene", "kasespatzle", "rostzwiebeln"}

	var wrong atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				got := Keywords(title)
				if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
					wrong.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, wrong.Load())
}

func TestFitKeepsAspectAndNeverUpscales(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3000, 1500))
	fitted := Fit(img, MaxDimension)
	assert.Equal(t, MaxDimension, fitted.Bounds().Dx())
	assert.Equal(t, MaxDimension/2, fitted.Bounds().Dy())

	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Equal(t, small.Bounds(), Fit(small, MaxDimension).Bounds())

	tall := image.NewRGBA(image.Rect(0, 0, 10, 4000))
	assert.Equal(t, 1, Thumbnail(tall, thumbnailSize).Bounds().Dx())
}

func TestProcessProducesJPEGAndHash(t *testing.T) {
	out, hash, err := Process(testPNG(t, 1600, 900))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	img, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, img.Bounds().Dx())

	_, _, err = Process([]byte("not an image"))
	assert.Error(t, err)
}

func TestDataURIRoundTrip(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff}
	got, err := FromDataURI(ToDataURI(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = FromDataURI("data:image/jpeg;base64")
	assert.Error(t, err)
}

type imageHost struct {
	png      []byte
	hits     int32
	fallback int32
}

func (h *imageHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&h.hits, 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(h.png)
	})
	mux.HandleFunc("/broken.png", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/garbage.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	})
	mux.HandleFunc("/gen/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&h.fallback, 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(h.png)
	})
	return mux
}

func newTestProcessor(t *testing.T, template string) (*Processor, *storage.Local, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocal(dir, "/images")
	require.NoError(t, err)
	return NewProcessor(store, template, 0), store, dir
}

func TestResolveCandidate(t *testing.T) {
	host := &imageHost{png: testPNG(t, 400, 300)}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p, store, dir := newTestProcessor(t, srv.URL+"/gen/{keywords}")
	res := p.Resolve(context.Background(), srv.URL+"/ok.png", "Linsensuppe", "")

	require.NotEmpty(t, res.StorageKey)
	assert.Equal(t, store.URL(res.StorageKey), res.DisplayURL)
	assert.Equal(t, srv.URL+"/ok.png", res.SourceImageURL)
	assert.NotEmpty(t, res.PlaceholderHash)
	assert.Equal(t, int32(0), atomic.LoadInt32(&host.fallback))

	_, err := os.Stat(filepath.Join(dir, res.StorageKey))
	assert.NoError(t, err)
}

func TestResolveFallsBackToKeywordImage(t *testing.T) {
	host := &imageHost{png: testPNG(t, 64, 64)}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p, _, _ := newTestProcessor(t, srv.URL+"/gen/{keywords}")

	for _, candidate := range []string{srv.URL + "/broken.png", srv.URL + "/garbage.png", ""} {
		res := p.Resolve(context.Background(), candidate, "Rote Linsensuppe", "")
		assert.NotEmpty(t, res.StorageKey, candidate)
		assert.NotEmpty(t, res.DisplayURL, candidate)
		assert.Empty(t, res.SourceImageURL, candidate)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&host.fallback))
	assert.True(t, strings.HasSuffix(p.FallbackURL("Rote Linsensuppe", ""), "/gen/rote,linsensuppe"))
	assert.True(t, strings.HasSuffix(p.FallbackURL("", "pasta carbonara"), "/gen/pasta,carbonara"))
	assert.True(t, strings.HasSuffix(p.FallbackURL("", ""), "/gen/food"))
}

func TestResolveNeverFails(t *testing.T) {
	host := &imageHost{png: testPNG(t, 8, 8)}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p, _, _ := newTestProcessor(t, srv.URL+"/broken.png?k={keywords}")
	res := p.Resolve(context.Background(), srv.URL+"/broken.png", "Suppe", "")
	assert.Equal(t, Resolution{}, res)

	noFallback, _, _ := newTestProcessor(t, "")
	assert.Equal(t, Resolution{}, noFallback.Resolve(context.Background(), "", "Suppe", ""))
}

func TestResolveBytes(t *testing.T) {
	p, _, _ := newTestProcessor(t, "")
	res := p.ResolveBytes(context.Background(), testPNG(t, 2000, 1000), "Pizza", "")
	assert.NotEmpty(t, res.StorageKey)
	assert.NotEmpty(t, res.PlaceholderHash)

	assert.Equal(t, Resolution{}, p.ResolveBytes(context.Background(), []byte("nope"), "Pizza", ""))
}

func TestDownloadRespectsSizeCap(t *testing.T) {
	host := &imageHost{png: testPNG(t, 200, 200)}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	store, err := storage.NewLocal(t.TempDir(), "/images")
	require.NoError(t, err)
	p := NewProcessor(store, "", 100)

	_, err = p.download(context.Background(), srv.URL+"/ok.png")
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestReleaseDeletesStoredImage(t *testing.T) {
	p, _, dir := newTestProcessor(t, "")
	res := p.ResolveBytes(context.Background(), testPNG(t, 50, 50), "Pizza", "")
	require.NotEmpty(t, res.StorageKey)

	p.Release(context.Background(), res.StorageKey)
	_, err := os.Stat(filepath.Join(dir, res.StorageKey))
	assert.True(t, os.IsNotExist(err))

	p.Release(context.Background(), "")
	p.Release(context.Background(), res.StorageKey)
}
