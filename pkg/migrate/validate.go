package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var migrationNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	markUp    = "-- +goose Up"
	markDown  = "-- +goose Down"
	markBegin = "-- +goose StatementBegin"
	markEnd   = "-- +goose StatementEnd"
)

// ValidateDir checks the migrations in dir on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS reports every malformed migration in fsys: bad filenames,
// reused versions and missing or misordered goose annotations.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var errs error
	versions := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		m := migrationNameRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, ok := versions[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, m[1], prev))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := checkAnnotations(string(body)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if errs == nil && len(versions) == 0 {
		return fmt.Errorf("no migrations found")
	}
	return errs
}

func checkAnnotations(body string) error {
	up := strings.Index(body, markUp)
	down := strings.Index(body, markDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", markUp)
	case down < 0:
		return fmt.Errorf("missing %q", markDown)
	case down < up:
		return fmt.Errorf("down section precedes up section")
	}
	depth := 0
	for _, line := range strings.Split(body, "\n") {
		switch strings.TrimSpace(line) {
		case markBegin:
			depth++
		case markEnd:
			depth--
		}
		if depth < 0 || depth > 1 {
			return fmt.Errorf("unbalanced statement blocks")
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated statement block")
	}
	return nil
}
