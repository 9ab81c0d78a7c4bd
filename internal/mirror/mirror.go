// Package mirror computes the upstream hash: a single token that changes
// whenever any configured package mirror publishes new metadata.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"bstate/internal/config"
)

type Oracle interface {
	UpstreamHash(ctx context.Context) (string, error)
}

// Static always reports the same hash.
type Static string

func (s Static) UpstreamHash(context.Context) (string, error) {
	return string(s), nil
}

// HTTPOracle hashes the Release file of every mirror distribution.
type HTTPOracle struct {
	Mirrors []config.Mirror
	Client  *http.Client
}

func NewHTTPOracle(mirrors []config.Mirror) *HTTPOracle {
	return &HTTPOracle{
		Mirrors: mirrors,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *HTTPOracle) UpstreamHash(ctx context.Context) (string, error) {
	mirrors := append([]config.Mirror(nil), o.Mirrors...)
	sort.SliceStable(mirrors, func(i, j int) bool {
		return mirrors[i].Name < mirrors[j].Name
	})

	hasher := blake3.New()
	for _, m := range mirrors {
		body, err := o.fetchRelease(ctx, m)
		if err != nil {
			return "", err
		}
		hasher.Write([]byte(m.Name))
		hasher.Write([]byte{0})
		hasher.Write(body)
		hasher.Write([]byte{0})
	}

	sum := fmt.Sprintf("%x", hasher.Sum(nil))
	slog.Debug("Computed upstream hash", "mirrors", len(mirrors), "hash", sum)
	return sum, nil
}

func ReleaseURL(m config.Mirror) string {
	return strings.TrimSuffix(m.URL, "/") + "/dists/" + m.Distribution + "/Release"
}

func (o *HTTPOracle) fetchRelease(ctx context.Context, m config.Mirror) ([]byte, error) {
	url := ReleaseURL(m)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for mirror %s: %w", m.Name, err)
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}
