package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads notes from a directory or git repository.
type Loader struct {
	reposDir string
	logger   *slog.Logger
}

// NewLoader returns a loader that keeps cloned repositories under reposDir.
func NewLoader(reposDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{reposDir: reposDir, logger: logger.With("component", "importer")}
}

// Load returns every note found in the markdown files under source, which is
// either a local directory, a single file or a git URL. Files that fail to
// parse are skipped and reported in the returned error alongside the notes
// that were read.
func (l *Loader) Load(ctx context.Context, source string) ([]Note, error) {
	root := source
	if IsGitURL(source) {
		dir, err := repoDir(l.reposDir, source)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("create repos directory: %w", err)
		}
		if err := syncRepo(ctx, l.logger, source, dir); err != nil {
			return nil, err
		}
		root = dir
	}

	var (
		notes     []Note
		parseErrs []error
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileNotes, err := ParseFile(path)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("parsing %s: %w", path, err))
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			rel = filepath.Base(path)
		}
		for i := range fileNotes {
			fileNotes[i].File = filepath.ToSlash(rel)
		}
		notes = append(notes, fileNotes...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	l.logger.Info("notes loaded", "source", source, "notes", len(notes), "errors", len(parseErrs))
	return notes, errors.Join(parseErrs...)
}
