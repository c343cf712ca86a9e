package weight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeasureSumsAssetWeights(t *testing.T) {
	t.Parallel()

	page := []byte("<html><body><img src=\"/logo.png\"><script src=\"/app.js\"></script></body></html>")
	script := []byte("console.log('hello from the audit fixture');")
	image := make([]byte, 2048)

	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(page) //nolint:errcheck
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write(script) //nolint:errcheck
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(image) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{MaxAssets: 10, Timeout: 5 * time.Second})
	result, err := c.Measure(context.Background(), srv.URL+"/page", []string{
		srv.URL + "/app.js",
		srv.URL + "/logo.png",
	})
	require.NoError(t, err)

	require.Equal(t, float64(3), result.Metrics["requests"])
	wantTotal := float64(len(page) + len(script) + len(image))
	require.Equal(t, wantTotal, result.Metrics["totalWeightBytes"])
	require.Equal(t, float64(len(image)), result.Metrics["imageWeightBytes"])
	require.Equal(t, float64(len(script)), result.Metrics["scriptWeightBytes"])
	require.Len(t, result.Offenders["byWeight"], 3)
}

func TestMeasureRespectsAssetCap(t *testing.T) {
	t.Parallel()

	hits := make(chan string, 16)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.Write([]byte("ok")) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{MaxAssets: 1, Timeout: 5 * time.Second})
	result, err := c.Measure(context.Background(), srv.URL+"/page", []string{
		srv.URL + "/a",
		srv.URL + "/b",
		srv.URL + "/c",
	})
	require.NoError(t, err)
	require.Equal(t, float64(2), result.Metrics["requests"], "page plus one capped asset")
}

func TestMeasureCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{})
	_, err := c.Measure(ctx, "http://example.invalid/", nil)
	require.Error(t, err)
}

func TestMeasureSameURLTwice(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>")) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{MaxAssets: 10, Timeout: 5 * time.Second})

	first, err := c.Measure(context.Background(), srv.URL+"/page", nil)
	require.NoError(t, err)
	require.Equal(t, float64(1), first.Metrics["requests"])

	// A repeat audit of the same URL must re-download it, not trip over
	// the visited-URL dedup.
	second, err := c.Measure(context.Background(), srv.URL+"/page", nil)
	require.NoError(t, err)
	require.Equal(t, first.Metrics["requests"], second.Metrics["requests"])
	require.Equal(t, first.Metrics["totalWeightBytes"], second.Metrics["totalWeightBytes"])
}
