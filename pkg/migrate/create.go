package migrate

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const versionLayout = "20060102150405"

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

var migrationTmpl = template.Must(template.New("migration").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.Slug}}
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback {{.Slug}}
-- +goose StatementEnd
`))

// Create writes an empty goose migration to dir and returns its path. The
// version is the UTC timestamp of now, bumped past the newest file in dir so
// migrations stay ordered when the clock lags.
func Create(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version := now.UTC()
	latest, err := latestVersion(os.DirFS(dir))
	if err != nil {
		return "", err
	}
	if !version.After(latest) {
		version = latest.Add(time.Second)
	}

	var body bytes.Buffer
	if err := migrationTmpl.Execute(&body, struct{ Slug string }{slug}); err != nil {
		return "", err
	}
	full := filepath.Join(dir, version.Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("write migration %q: %w", full, err)
	}
	return full, f.Close()
}

func latestVersion(fsys fs.FS) (time.Time, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return time.Time{}, fmt.Errorf("read migrations: %w", err)
	}
	var latest int64
	for _, e := range entries {
		m := migrationNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if v, _ := strconv.ParseInt(m[1], 10, 64); v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return time.Time{}, nil
	}
	return time.Parse(versionLayout, strconv.FormatInt(latest, 10))
}
