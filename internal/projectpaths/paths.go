package projectpaths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathRequired = errors.New("project path is required")
	ErrNotDirectory = errors.New("path is not a directory")
)

type DirChecker interface {
	Stat(name string) (os.FileInfo, error)
}

type osDirChecker struct{}

func (osDirChecker) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func OSDirChecker() DirChecker {
	return osDirChecker{}
}

// Normalize returns the absolute, cleaned form of a project path. A leading
// "~/" expands to the home directory.
func Normalize(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", ErrPathRequired
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func ValidateDirectory(path string, checker DirChecker) error {
	if checker == nil {
		checker = OSDirChecker()
	}
	info, err := checker.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	return nil
}

// Resolve normalizes raw and checks that it names an existing directory.
func Resolve(raw string, checker DirChecker) (string, error) {
	path, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if err := ValidateDirectory(path, checker); err != nil {
		return "", err
	}
	return path, nil
}
