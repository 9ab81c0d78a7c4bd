package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bstate/internal/config"
)

func releaseServer(t *testing.T, releases map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := releases[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPOracleStableAndSensitive(t *testing.T) {
	releases := map[string]string{
		"/debian/dists/bookworm/Release":  "Date: Sat, 01 Jun 2024\n",
		"/security/dists/bookworm/Release": "Date: Sun, 02 Jun 2024\n",
	}
	srv := releaseServer(t, releases)

	mirrors := []config.Mirror{
		{Name: "security", URL: srv.URL + "/security", Distribution: "bookworm"},
		{Name: "debian", URL: srv.URL + "/debian/", Distribution: "bookworm"},
	}
	oracle := NewHTTPOracle(mirrors)

	h1, err := oracle.UpstreamHash(context.Background())
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	reordered := NewHTTPOracle([]config.Mirror{mirrors[1], mirrors[0]})
	h2, err := reordered.UpstreamHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	releases["/security/dists/bookworm/Release"] = "Date: Mon, 03 Jun 2024\n"
	h3, err := oracle.UpstreamHash(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHTTPOracleFetchFailure(t *testing.T) {
	srv := releaseServer(t, nil)

	oracle := NewHTTPOracle([]config.Mirror{
		{Name: "debian", URL: srv.URL, Distribution: "bookworm"},
	})

	_, err := oracle.UpstreamHash(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestReleaseURL(t *testing.T) {
	m := config.Mirror{URL: "https://deb.debian.org/debian/", Distribution: "bookworm"}
	assert.Equal(t, "https://deb.debian.org/debian/dists/bookworm/Release", ReleaseURL(m))
}

func TestStatic(t *testing.T) {
	h, err := Static("H1").UpstreamHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "H1", h)
}
