package ghrelease

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	signforge "github.com/signforge/signforge"
)

const (
	defaultBaseURL   = "https://api.github.com"
	apiVersion       = "2022-11-28"
	lowRateThreshold = 100
)

var repoURLPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/.]+)`)

// ParseRepoURL extracts owner and repo from a GitHub repository URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	match := repoURLPattern.FindStringSubmatch(repoURL)
	if match == nil {
		return "", "", errors.Errorf("ghrelease: invalid GitHub repository URL %q", repoURL)
	}
	return match[1], match[2], nil
}

// Release mirrors the subset of the GitHub release payload the pipeline needs.
type Release struct {
	TagName     string  `json:"tag_name"`
	PublishedAt string  `json:"published_at"`
	Prerelease  bool    `json:"prerelease"`
	Assets      []Asset `json:"assets"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Client resolves latest-release metadata through the GitHub REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a release client. token may be empty for unauthenticated
// access, at the cost of a much lower rate limit.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// LatestRelease resolves the release record for a tracked task. When the task
// prefers prereleases the most recently published prerelease wins, falling
// back to the latest stable release when none exists.
func (c *Client) LatestRelease(ctx context.Context, task signforge.Task) (signforge.ReleaseRecord, error) {
	owner, repo, err := ParseRepoURL(task.RepoURL)
	if err != nil {
		return signforge.ReleaseRecord{}, err
	}

	var release *Release
	if task.UsePrerelease {
		releases, err := c.listReleases(ctx, owner, repo)
		if err != nil {
			return signforge.ReleaseRecord{}, err
		}
		release = SelectRelease(releases, true)
		if release == nil {
			return signforge.ReleaseRecord{}, errors.Errorf("ghrelease: no releases found for %s/%s", owner, repo)
		}
	} else {
		release, err = c.latestStable(ctx, owner, repo)
		if err != nil {
			return signforge.ReleaseRecord{}, err
		}
	}

	record := signforge.ReleaseRecord{
		TaskName:    task.TaskName,
		VersionTag:  release.TagName,
		PublishedAt: release.PublishedAt,
	}
	if asset := matchAsset(release.Assets, task.AssetGlob); asset != nil {
		record.DownloadURL = asset.BrowserDownloadURL
		record.AssetID = asset.ID
	}
	return record, nil
}

// SelectRelease picks the release the tracker should compare against.
// GitHub lists releases most recent first, so the first matching entry wins.
func SelectRelease(releases []Release, usePrerelease bool) *Release {
	if usePrerelease {
		for i := range releases {
			if releases[i].Prerelease {
				return &releases[i]
			}
		}
	} else {
		for i := range releases {
			if !releases[i].Prerelease {
				return &releases[i]
			}
		}
	}
	if len(releases) > 0 {
		return &releases[0]
	}
	return nil
}

// matchAsset resolves the downloadable asset for a task. A configured glob is
// a hard filter: when nothing matches, no asset is returned and the record
// carries no download URL, which fails the task loudly instead of shipping an
// arbitrary file. Only tasks without a glob take the first asset.
func matchAsset(assets []Asset, glob string) *Asset {
	if len(assets) == 0 {
		return nil
	}
	if glob == "" {
		return &assets[0]
	}
	for i := range assets {
		if ok, err := path.Match(glob, assets[i].Name); err == nil && ok {
			return &assets[i]
		}
	}
	return nil
}

func (c *Client) latestStable(ctx context.Context, owner, repo string) (*Release, error) {
	var release Release
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, owner, repo)
	if err := c.getJSON(ctx, url, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

func (c *Client) listReleases(ctx context.Context, owner, repo string) ([]Release, error) {
	var releases []Release
	url := fmt.Sprintf("%s/repos/%s/%s/releases", c.baseURL, owner, repo)
	if err := c.getJSON(ctx, url, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "ghrelease: build request failed")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "ghrelease: request failed")
	}
	defer resp.Body.Close()

	logRateLimit(resp.Header)
	if resp.StatusCode == http.StatusForbidden {
		return errors.Errorf("ghrelease: rate limit exceeded (resets at %s)", resp.Header.Get("X-RateLimit-Reset"))
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ghrelease: GitHub API returned %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "ghrelease: read response failed")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "ghrelease: decode response failed")
	}
	return nil
}

func logRateLimit(header http.Header) {
	raw := header.Get("X-RateLimit-Remaining")
	if raw == "" {
		return
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	if remaining < lowRateThreshold {
		log.Warn().Int("remaining", remaining).Str("reset", header.Get("X-RateLimit-Reset")).Msg("ghrelease: GitHub API rate limit low")
	}
}
