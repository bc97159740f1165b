package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML marks an allowlist file that failed to parse.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex marks an allowlist pattern that failed to compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds content and path patterns excluded from secret
// detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the project allowlist (.gitleaks.toml under
// projectPath) with the user allowlist file. Missing files are skipped;
// present-but-invalid files are errors.
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{Paths: []string{}, Regexes: []string{}}

	if projectPath != "" {
		if err := mergeFile(merged, filepath.Join(projectPath, ".gitleaks.toml")); err != nil {
			return nil, err
		}
	}
	if userPath != "" {
		if err := mergeFile(merged, userPath); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func mergeFile(into *Allowlist, path string) error {
	loaded, err := loadTOML(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	into.Paths = append(into.Paths, loaded.Paths...)
	into.Regexes = append(into.Regexes, loaded.Regexes...)
	return nil
}

func loadTOML(path string) (*Allowlist, error) {
	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range append(file.Allowlist.Paths, file.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   file.Allowlist.Paths,
		Regexes: file.Allowlist.Regexes,
	}, nil
}
