package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source retrieves raw schema documents by URL.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, url string) ([]byte, error)

func (f SourceFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPSource fetches schemas over HTTP(S).
type HTTPSource struct {
	Client *http.Client
}

// NewHTTPSource returns an HTTPSource whose requests time out after timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stripFragment(url), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ErrNotLocal is returned by DirSource for URLs outside its base URL.
var ErrNotLocal = errors.New("compose: url not served locally")

// DirSource serves URLs under BaseURL from files under Dir, so
// <BaseURL>2019-04-01/Microsoft.Storage.json reads
// <Dir>/2019-04-01/Microsoft.Storage.json.
type DirSource struct {
	BaseURL string
	Dir     string
}

func (s DirSource) Fetch(_ context.Context, url string) ([]byte, error) {
	url = stripFragment(url)
	if !strings.HasPrefix(url, s.BaseURL) {
		return nil, fmt.Errorf("%w: %s", ErrNotLocal, url)
	}
	rel := strings.TrimPrefix(url, s.BaseURL)
	if !fs.ValidPath(rel) {
		return nil, fmt.Errorf("%w: %s escapes %s", ErrNotLocal, url, s.Dir)
	}
	return fs.ReadFile(os.DirFS(s.Dir), rel)
}

// Sources tries each Source in order and returns the first success.
type Sources []Source

func (ss Sources) Fetch(ctx context.Context, url string) ([]byte, error) {
	var errs []error
	for _, s := range ss {
		b, err := s.Fetch(ctx, url)
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("compose: no source for %s", url)
	}
	return nil, errors.Join(errs...)
}

// stripFragment drops a trailing #fragment from url.
func stripFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
