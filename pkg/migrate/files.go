package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	versionLayout = "20060102150405"
	upMarker      = "-- +goose Up"
	downMarker    = "-- +goose Down"
)

var (
	fileNameRe   = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	unsafeCharRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// File is one goose SQL migration on disk.
type File struct {
	Version int64
	Name    string
	Path    string
}

// ListDir returns the migrations in dir ordered by version. Non-SQL entries
// are ignored; a malformed SQL filename is an error.
func ListDir(dir string) ([]File, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		file, err := parseFileName(dir, entry.Name())
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func parseFileName(dir, base string) (File, error) {
	parts := fileNameRe.FindStringSubmatch(base)
	if parts == nil {
		return File{}, fmt.Errorf("migration %q: expected <YYYYMMDDHHMMSS>_<name>.sql", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("migration %q: %w", base, err)
	}
	return File{Version: version, Name: parts[2], Path: filepath.Join(dir, base)}, nil
}

// ValidateDir fails when dir holds no migrations, two files share a version,
// or a file lacks either goose section.
func ValidateDir(dir string) error {
	files, err := ListDir(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	for i, file := range files {
		if i > 0 && files[i-1].Version == file.Version {
			return fmt.Errorf("version %d used by both %s and %s", file.Version, files[i-1].Name, file.Name)
		}
		body, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("read %q: %w", file.Path, err)
		}
		if err := checkSections(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", filepath.Base(file.Path), err)
		}
	}
	return nil
}

func checkSections(body string) error {
	up := strings.Index(body, upMarker)
	down := strings.Index(body, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", upMarker)
	case down < 0:
		return fmt.Errorf("missing %q", downMarker)
	case down < up:
		return fmt.Errorf("%q must come before %q", upMarker, downMarker)
	}
	return nil
}

// CreateSQLMigration writes an empty migration named after name. The version
// is the current UTC time, bumped past the newest existing file so new
// migrations always sort last.
func CreateSQLMigration(dir, name string) (string, error) {
	slug := strings.Trim(unsafeCharRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}
	existing, err := ListDir(dir)
	if err != nil {
		return "", err
	}

	stamp := time.Now().UTC()
	if n := len(existing); n > 0 {
		latest, err := time.Parse(versionLayout, strconv.FormatInt(existing[n-1].Version, 10))
		if err == nil && !stamp.After(latest) {
			stamp = latest.Add(time.Second)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", stamp.Format(versionLayout), slug))
	body := fmt.Sprintf("%s\n-- +goose StatementBegin\n-- %s\n-- +goose StatementEnd\n\n%s\n-- +goose StatementBegin\n-- undo %s\n-- +goose StatementEnd\n",
		upMarker, slug, downMarker, slug)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return path, nil
}
