package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":       {Data: []byte("<html>index</html>")},
		"assets/app-1a.js": {Data: []byte("console.log('app')")},
		"favicon.ico":      {Data: []byte("ico")},
	}
}

func get(t *testing.T, h http.Handler, target string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w.Result()
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestSPAHandlerServesIndex(t *testing.T) {
	h := newSPAHandler(testFS())

	resp := get(t, h, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := body(t, resp); got != "<html>index</html>" {
		t.Errorf("unexpected body %q", got)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}
}

func TestSPAHandlerServesAssets(t *testing.T) {
	h := newSPAHandler(testFS())

	resp := get(t, h, "/assets/app-1a.js")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body(t, resp), "console.log") {
		t.Error("expected asset body")
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("expected immutable caching, got %q", cc)
	}
}

func TestSPAHandlerFallsBackForClientRoutes(t *testing.T) {
	h := newSPAHandler(testFS())

	resp := get(t, h, "/quiz/step/2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := body(t, resp); got != "<html>index</html>" {
		t.Errorf("expected index fallback, got %q", got)
	}
}

func TestSPAHandlerMissingAssetIs404(t *testing.T) {
	h := newSPAHandler(testFS())

	resp := get(t, h, "/assets/missing.js")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEmbeddedDistHasIndex(t *testing.T) {
	resp := get(t, SPAHandler(), "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body(t, resp), "Mentor Labs") {
		t.Error("expected embedded index.html")
	}
}
