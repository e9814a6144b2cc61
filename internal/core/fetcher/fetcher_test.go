package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recipeimage "recipe-importer/internal/core/image"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDetectPlatform(t *testing.T) {
	valid := map[string]Platform{
		"https://www.instagram.com/p/C1a2B3c4D5e/":                    PlatformInstagram,
		"https://instagram.com/reel/Cxyz_-123":                        PlatformInstagram,
		"https://www.instagram.com/p/C1a2B3c4D5e/?igsh=abc":           PlatformInstagram,
		"https://www.tiktok.com/@chef.anna/video/7301234567890123456": PlatformTikTok,
		"https://vm.tiktok.com/ZMabc123/":                             PlatformTikTok,
	}
	for u, want := range valid {
		got, err := DetectPlatform(u)
		require.NoError(t, err, u)
		assert.Equal(t, want, got, u)
	}

	for _, u := range []string{
		"https://www.instagram.com/chef.anna/",
		"https://www.tiktok.com/@chef.anna",
		"https://example.com/p/abc",
		"not a url",
	} {
		_, err := DetectPlatform(u)
		assert.True(t, common.IsValidationError(err), u)
	}
}

type scraperStub struct {
	pollsUntilDone int32
	polls          int32
	finalStatus    string
	items          []map[string]interface{}
	submitStatus   int
}

func (s *scraperStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/acts/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if s.submitStatus != 0 {
			w.WriteHeader(s.submitStatus)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"data": map[string]interface{}{"id": "run-1", "status": "RUNNING", "defaultDatasetId": "ds-1"},
		})
	})
	mux.HandleFunc("/actor-runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.polls, 1)
		status := "RUNNING"
		if n >= s.pollsUntilDone {
			status = s.finalStatus
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"id": "run-1", "status": status, "defaultDatasetId": "ds-1"},
		})
	})
	mux.HandleFunc("/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.items)
	})
	return mux
}

func newSocial(url string) *SocialFetcher {
	f := NewSocialFetcher(config.ScraperConfig{
		BaseURL:        url,
		Token:          "tok",
		InstagramActor: "ig",
		TikTokActor:    "tt",
	})
	f.pollInterval = time.Millisecond
	return f
}

const postURL = "https://www.instagram.com/p/C1a2B3c4D5e/"

func TestSocialFetchSuccess(t *testing.T) {
	stub := &scraperStub{
		pollsUntilDone: 3,
		finalStatus:    "SUCCEEDED",
		items: []map[string]interface{}{{
			"caption":      "Linsensuppe 🍲 200g Linsen...",
			"images":       []string{"", "https://cdn.example.com/gallery-1.jpg"},
			"displayUrl":   "https://cdn.example.com/display.jpg",
			"thumbnailUrl": "https://cdn.example.com/thumb.jpg",
		}},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	res, err := newSocial(srv.URL).Fetch(context.Background(), postURL)
	require.NoError(t, err)
	assert.Equal(t, "Linsensuppe 🍲 200g Linsen...", res.RawContent)
	assert.Equal(t, "https://cdn.example.com/gallery-1.jpg", res.CandidateImageURL)
	assert.Equal(t, postURL, res.SourceURL)
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.polls))
}

func TestSocialImagePriority(t *testing.T) {
	item := socialItem{ThumbnailURL: "thumb", DisplayURL: ""}
	item.VideoMeta.CoverURL = "cover"
	assert.Equal(t, "thumb", item.bestImage())

	item.ThumbnailURL = ""
	assert.Equal(t, "cover", item.bestImage())

	item.DisplayURL = "display"
	assert.Equal(t, "display", item.bestImage())

	assert.Equal(t, "", socialItem{}.bestImage())
	assert.Equal(t, "tiktok text", socialItem{Text: "tiktok text"}.caption())
}

func assertUnavailable(t *testing.T, err error) {
	t.Helper()
	var unavailable *common.APIUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, ServiceSocial, unavailable.Service)
	assert.Equal(t, common.FallbackModeManual, unavailable.FallbackMode)
	assert.Equal(t, postURL, unavailable.PrefillURL)
}

func TestSocialFetchDegradation(t *testing.T) {
	t.Run("terminal failure", func(t *testing.T) {
		stub := &scraperStub{pollsUntilDone: 1, finalStatus: "FAILED"}
		srv := httptest.NewServer(stub.handler(t))
		defer srv.Close()

		_, err := newSocial(srv.URL).Fetch(context.Background(), postURL)
		assertUnavailable(t, err)
	})

	t.Run("submission rejected", func(t *testing.T) {
		stub := &scraperStub{submitStatus: http.StatusPaymentRequired}
		srv := httptest.NewServer(stub.handler(t))
		defer srv.Close()

		_, err := newSocial(srv.URL).Fetch(context.Background(), postURL)
		assertUnavailable(t, err)
	})

	t.Run("poll attempts exhausted", func(t *testing.T) {
		stub := &scraperStub{pollsUntilDone: 1000, finalStatus: "SUCCEEDED"}
		srv := httptest.NewServer(stub.handler(t))
		defer srv.Close()

		f := newSocial(srv.URL)
		f.maxAttempts = 4
		_, err := f.Fetch(context.Background(), postURL)
		assertUnavailable(t, err)
		assert.Equal(t, int32(4), atomic.LoadInt32(&stub.polls))
	})

	t.Run("empty dataset", func(t *testing.T) {
		stub := &scraperStub{pollsUntilDone: 1, finalStatus: "SUCCEEDED", items: []map[string]interface{}{}}
		srv := httptest.NewServer(stub.handler(t))
		defer srv.Close()

		_, err := newSocial(srv.URL).Fetch(context.Background(), postURL)
		assertUnavailable(t, err)
	})

	t.Run("invalid url is a validation error", func(t *testing.T) {
		_, err := newSocial("http://unused").Fetch(context.Background(), "https://example.com/x")
		assert.True(t, common.IsValidationError(err))
		_, ok := common.AsImportError(err)
		assert.False(t, ok)
	})
}

func TestWebsiteImageExtractorOrder(t *testing.T) {
	page := &scrapedPage{
		Markdown: "# Soup\n![step](https://img.example.com/md.jpg)",
		Images:   []string{"data:image/png;base64,xx", "https://img.example.com/array.jpg"},
		Metadata: map[string]interface{}{
			"og:image": []interface{}{"https://img.example.com/og.jpg"},
			"image":    "https://img.example.com/flat.jpg",
		},
	}
	assert.Equal(t, "https://img.example.com/array.jpg", resolveImageURL(page))

	page.Images = nil
	assert.Equal(t, "https://img.example.com/og.jpg", resolveImageURL(page))

	delete(page.Metadata, "og:image")
	page.Metadata["twitter:image"] = "https://img.example.com/tw.jpg"
	assert.Equal(t, "https://img.example.com/tw.jpg", resolveImageURL(page))

	delete(page.Metadata, "twitter:image")
	assert.Equal(t, "https://img.example.com/flat.jpg", resolveImageURL(page))

	delete(page.Metadata, "image")
	assert.Equal(t, "https://img.example.com/md.jpg", resolveImageURL(page))

	page.Markdown = "no images"
	assert.Equal(t, "", resolveImageURL(page))
}

func TestWebsiteFetch(t *testing.T) {
	long := strings.Repeat("ä", MaxMarkdownRunes+100)
	var mode atomic.Value
	mode.Store("markdown")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []interface{}{"markdown"}, body["formats"])

		switch mode.Load().(string) {
		case "markdown":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"markdown": long,
					"metadata": map[string]interface{}{"title": "Linsensuppe", "ogImage": "https://img.example.com/og.jpg"},
				},
			})
		case "html":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"html": "<h1>Linsensuppe</h1><p>200g <strong>Linsen</strong></p>",
				},
			})
		case "error":
			w.WriteHeader(http.StatusInternalServerError)
		case "unsuccessful":
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": "blocked"})
		}
	}))
	defer srv.Close()

	f := NewWebsiteFetcher(config.ReaderConfig{BaseURL: srv.URL, APIKey: "key"})
	ctx := context.Background()

	res, err := f.Fetch(ctx, "https://example.com/recipe/42")
	require.NoError(t, err)
	assert.Equal(t, MaxMarkdownRunes, len([]rune(res.RawContent)))
	assert.Equal(t, "Linsensuppe", res.Title)
	assert.Equal(t, "https://img.example.com/og.jpg", res.CandidateImageURL)

	mode.Store("html")
	res, err = f.Fetch(ctx, "https://example.com/recipe/42")
	require.NoError(t, err)
	assert.Contains(t, res.RawContent, "# Linsensuppe")
	assert.Contains(t, res.RawContent, "**Linsen**")

	for _, m := range []string{"error", "unsuccessful"} {
		mode.Store(m)
		_, err = f.Fetch(ctx, "https://example.com/recipe/42")
		var unavailable *common.APIUnavailableError
		require.ErrorAs(t, err, &unavailable, m)
		assert.Equal(t, ServiceReader, unavailable.Service)
		assert.Equal(t, "https://example.com/recipe/42", unavailable.PrefillURL)
	}

	_, err = f.Fetch(ctx, "ftp://example.com/x")
	assert.True(t, common.IsValidationError(err))
}

func TestPhotoPrepare(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2400, 1200))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	f := NewPhotoFetcher(10 * 1024 * 1024)
	res, err := f.Prepare(buf.Bytes())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.ImageDataURI, "data:image/jpeg;base64,"))

	raw, err := recipeimage.FromDataURI(res.ImageDataURI)
	require.NoError(t, err)
	decoded, err := recipeimage.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, PhotoMaxDimension, decoded.Bounds().Dx())
	assert.Equal(t, 800, decoded.Bounds().Dy())

	_, err = f.Prepare([]byte("garbage"))
	assert.True(t, common.IsValidationError(err))

	_, err = NewPhotoFetcher(10).Prepare(buf.Bytes())
	assert.True(t, common.IsValidationError(err))

	res, err = f.Fetch(context.Background(), recipeimage.ToDataURI(buf.Bytes()))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ImageDataURI)
}
