package blocklist

import (
	"os"
	"path/filepath"
	"sort"
)

// DiscoverSources enumerates the blocklist sources a static configuration
// describes: every regular file under dir (operator-curated lists), plus
// every configured URL (third-party feeds), all assigned to defaultGroupID.
// IDs are assigned in sorted, deterministic order so repeated compiles
// produce the same group-bitmask assignment for unchanged input.
func DiscoverSources(dir string, urls []string, defaultGroupID int64) ([]SourceDescriptor, error) {
	var sources []SourceDescriptor

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				entries = nil
			} else {
				return nil, err
			}
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			sources = append(sources, SourceDescriptor{
				Name:    name,
				GroupID: defaultGroupID,
				Locator: filepath.Join(dir, name),
			})
		}
	}

	for _, url := range urls {
		sources = append(sources, SourceDescriptor{
			Name:    url,
			GroupID: defaultGroupID,
			Locator: url,
		})
	}

	for i := range sources {
		sources[i].ID = int64(i)
	}
	return sources, nil
}
