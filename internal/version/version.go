// Package version reports build information and checks the release feed for
// newer mwcbridge builds.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Build information, set with -ldflags "-X".
//
//nolint:gochecknoglobals // populated by the linker
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	// DefaultBaseURL is the release API the checker queries.
	DefaultBaseURL = "https://api.github.com"
	// DefaultTimeout bounds one release lookup.
	DefaultTimeout = 10 * time.Second

	owner = "mrz1836"
	repo  = "mwcbridge"

	maxBodySize = 64 * 1024
)

// ErrReleaseLookup indicates the release API answered with an error status.
var ErrReleaseLookup = errors.New("release lookup failed")

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the build information of the running binary.
func Current() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// UserAgent is the User-Agent header mwcbridge sends.
func UserAgent() string {
	return fmt.Sprintf("mwcbridge/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// Release is the subset of a published release the checker reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"html_url"`
}

// Checker looks up the latest published release.
type Checker struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Checker.
type Option func(*Checker)

// WithBaseURL points the checker at another release API.
func WithBaseURL(url string) Option {
	return func(c *Checker) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) { c.httpClient = client }
}

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the latest published release.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // fixed release API endpoint
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxBodySize)
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrReleaseLookup, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rel Release
	if err := json.NewDecoder(body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return &rel, nil
}

// Compare orders two version strings: 1 if a is newer, -1 if b is newer and
// 0 when they are equal. Development builds sort before every release.
func Compare(a, b string) int {
	aDev, bDev := isDev(a), isDev(b)
	switch {
	case aDev && bDev:
		return 0
	case aDev:
		return -1
	case bDev:
		return 1
	}

	pa, pb := parse(a), parse(b)
	for i := range 3 {
		if pa[i] != pb[i] {
			if pa[i] > pb[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// IsNewer reports whether latest is newer than current.
func IsNewer(current, latest string) bool {
	return Compare(latest, current) > 0
}

func isDev(v string) bool {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" || v == "dev" {
		return true
	}
	_, err := strconv.Atoi(strings.SplitN(v, ".", 2)[0])
	return err != nil
}

// parse returns major, minor and patch, ignoring pre-release and build
// suffixes.
func parse(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
