// Package update checks for and installs newer ralph releases.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

const (
	repoOwner     = "ralphloop"
	repoName      = "ralph"
	checkInterval = 24 * time.Hour
)

// checkCache remembers the last release lookup so routine commands do
// not hit the network more than once a day.
type checkCache struct {
	LastCheck       time.Time `json:"last_check"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
}

func cachePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ralph", "update-cache.json")
}

func loadCache() *checkCache {
	path := cachePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cache checkCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

func saveCache(cache *checkCache) {
	path := cachePath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0644)
}

// Release describes an available release.
type Release struct {
	Version    string
	ReleaseURL string
}

// isDev reports whether this is an unversioned development build.
func isDev(version string) bool {
	v := strings.TrimPrefix(version, "v")
	return v == "" || v == "dev"
}

func newUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("creating GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("creating updater: %w", err)
	}
	return updater, nil
}

// CheckForUpdate looks up the latest release and reports whether it is
// newer than the running version. Dev builds never update.
func CheckForUpdate(ctx context.Context, currentVersion string) (*Release, bool, error) {
	if isDev(currentVersion) {
		return nil, false, nil
	}

	updater, err := newUpdater()
	if err != nil {
		return nil, false, err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, false, fmt.Errorf("detecting latest version: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	release := &Release{
		Version:    latest.Version(),
		ReleaseURL: latest.ReleaseNotes,
	}
	current := strings.TrimPrefix(currentVersion, "v")
	return release, latest.GreaterThan(current), nil
}

// Update replaces the running binary with the latest release.
func Update(ctx context.Context, currentVersion string) error {
	if isDev(currentVersion) {
		return fmt.Errorf("cannot update a dev build")
	}

	updater, err := newUpdater()
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return fmt.Errorf("detecting latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no releases found")
	}
	if !latest.GreaterThan(strings.TrimPrefix(currentVersion, "v")) {
		return fmt.Errorf("already at latest version (%s)", currentVersion)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("updating: %w", err)
	}
	return nil
}

// CheckPeriodically returns an update notice at most once per day,
// empty otherwise. Meant to run at the start of common commands, so it
// prefers the cache over the network.
func CheckPeriodically(ctx context.Context, currentVersion string) string {
	if isDev(currentVersion) {
		return ""
	}
	current := strings.TrimPrefix(currentVersion, "v")

	cache := loadCache()
	if cache != nil && time.Since(cache.LastCheck) < checkInterval {
		// The cached "newer" version may no longer be newer if the
		// user upgraded since the cache was written.
		cached := strings.TrimPrefix(cache.LatestVersion, "v")
		if cache.UpdateAvailable && cached != "" && isNewerVersion(cached, current) {
			return updateNotice(currentVersion, cache.LatestVersion)
		}
		return ""
	}

	release, hasUpdate, err := CheckForUpdate(ctx, currentVersion)

	fresh := &checkCache{
		LastCheck:       time.Now(),
		UpdateAvailable: hasUpdate && err == nil,
	}
	if release != nil {
		fresh.LatestVersion = release.Version
	}
	saveCache(fresh)

	if err != nil || !hasUpdate {
		return ""
	}
	return updateNotice(currentVersion, release.Version)
}

// isNewerVersion compares dotted major.minor.patch numerically.
func isNewerVersion(a, b string) bool {
	parse := func(v string) [3]int {
		v = strings.TrimPrefix(v, "v")
		var out [3]int
		for i, part := range strings.SplitN(v, ".", 3) {
			_, _ = fmt.Sscanf(part, "%d", &out[i])
		}
		return out
	}

	av, bv := parse(a), parse(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			return av[i] > bv[i]
		}
	}
	return false
}

func updateNotice(current, latest string) string {
	return fmt.Sprintf("Update available: %s -> %s (run: ralph upgrade)", current, latest)
}
