package projectpaths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "empty", raw: "  ", wantErr: ErrPathRequired},
		{name: "absolute", raw: "/srv/app/../shop/", want: filepath.Clean("/srv/shop")},
		{name: "relative", raw: "repo", want: filepath.Join(cwd, "repo")},
		{name: "home", raw: "~/code/shop", want: filepath.Join(home, "code", "shop")},
		{name: "home only", raw: "~", want: home},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResolveRequiresDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "README.md")
	if err := os.WriteFile(file, []byte("hi"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Resolve(root+"/", nil)
	if err != nil {
		t.Fatalf("Resolve dir: %v", err)
	}
	if got != root {
		t.Fatalf("expected %q, got %q", root, got)
	}
	if _, err := Resolve(file, nil); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
	if _, err := Resolve(filepath.Join(root, "missing"), nil); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

type stubChecker struct {
	dirs map[string]bool
}

func (s stubChecker) Stat(name string) (os.FileInfo, error) {
	isDir, ok := s.dirs[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return stubInfo{name: filepath.Base(name), dir: isDir}, nil
}

type stubInfo struct {
	name string
	dir  bool
}

func (i stubInfo) Name() string       { return i.name }
func (i stubInfo) Size() int64        { return 0 }
func (i stubInfo) Mode() os.FileMode  { return 0 }
func (i stubInfo) ModTime() time.Time { return time.Time{} }
func (i stubInfo) IsDir() bool        { return i.dir }
func (i stubInfo) Sys() any           { return nil }

func TestValidateDirectoryUsesChecker(t *testing.T) {
	checker := stubChecker{dirs: map[string]bool{"/repo": true, "/repo/file": false}}

	if err := ValidateDirectory("/repo", checker); err != nil {
		t.Fatalf("expected /repo to validate: %v", err)
	}
	if err := ValidateDirectory("/repo/file", checker); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
	if err := ValidateDirectory("/elsewhere", checker); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
