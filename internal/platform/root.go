package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrConfigNotFound is returned by FindConfig when no file exists in the
// directory or any of its parents.
var ErrConfigNotFound = errors.New("config file not found")

// FindConfig walks upwards from startDir looking for humus.yaml or
// .humus/humus.yaml and returns the first absolute path found.
func FindConfig(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, candidate := range []string{
			filepath.Join(dir, ConfigFileName),
			filepath.Join(dir, ".humus", ConfigFileName),
		} {
			if isFile(candidate) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}
		dir = parent
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
