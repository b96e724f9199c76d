package discover

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Profile describes what a project root and a module look like for one
// ecosystem.
type Profile struct {
	Name string
	// RootMarkers are relative paths whose presence marks a project root.
	RootMarkers []string
	// ModuleFiles mark a module directory. An entry with a slash is matched as
	// a path suffix and the module is the directory above that suffix.
	ModuleFiles []string
	// SearchDirs are searched first, relative to the root, down to Depth.
	// When empty the root itself is searched.
	SearchDirs []string
	Depth      int
	// FallbackDepth enables a repository-wide search when SearchDirs yield
	// nothing. Only paths containing FallbackFilter are kept.
	FallbackDepth  int
	FallbackFilter string
	// Prune names directories find must not descend into.
	Prune []string
}

var profiles = map[string]Profile{
	"magento": {
		Name:           "magento",
		RootMarkers:    []string{"app/code", "vendor/magento"},
		ModuleFiles:    []string{"registration.php", "etc/module.xml"},
		SearchDirs:     []string{"app/code"},
		Depth:          6,
		FallbackDepth:  8,
		FallbackFilter: "/app/code/",
	},
	"go": {
		Name:        "go",
		RootMarkers: []string{"go.mod", "go.work"},
		ModuleFiles: []string{"go.mod"},
		Depth:       6,
		Prune:       []string{".git", "vendor", "node_modules", "testdata"},
	},
	"node": {
		Name:        "node",
		RootMarkers: []string{"package.json"},
		ModuleFiles: []string{"package.json"},
		Depth:       6,
		Prune:       []string{".git", "node_modules", "dist", "build"},
	},
	"python": {
		Name:        "python",
		RootMarkers: []string{"pyproject.toml", "setup.py"},
		ModuleFiles: []string{"pyproject.toml", "setup.py"},
		Depth:       6,
		Prune:       []string{".git", "venv", ".venv", "__pycache__", ".tox", "build", "dist"},
	},
}

// ErrUnknownProfile is returned by Lookup for an unregistered name.
var ErrUnknownProfile = errors.New("discover: unknown profile")

// DefaultProfile is used when configuration names none.
const DefaultProfile = "magento"

// Lookup returns the named profile; an empty name selects DefaultProfile.
func Lookup(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultProfile
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q (have %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
	}
	return p, nil
}

func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
