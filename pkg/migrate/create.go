package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9]+`)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named <version>_<name>.sql into dir.
// The version is now in UTC, bumped past the newest existing migration so files always
// sort after what is already there.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(os.DirFS(dir))
	if err != nil {
		return "", fmt.Errorf("scan %q: %w", dir, err)
	}
	version, err := nextVersion(latest, now)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, version+"_"+slug+".sql")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return path, nil
}

func slugify(name string) string {
	return strings.Trim(unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

func nextVersion(latest string, now time.Time) (string, error) {
	candidate := now.UTC().Truncate(time.Second)
	if latest == "" {
		return candidate.Format(versionLayout), nil
	}
	last, err := time.Parse(versionLayout, latest)
	if err != nil {
		return "", fmt.Errorf("parse version %q: %w", latest, err)
	}
	if !candidate.After(last) {
		candidate = last.Add(time.Second)
	}
	return candidate.Format(versionLayout), nil
}
