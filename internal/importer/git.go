package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// IsGitURL reports whether source looks like a remote git repository rather
// than a local path.
func IsGitURL(source string) bool {
	if strings.HasPrefix(source, "git@") {
		return true
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	}
	return false
}

// syncRepo clones repoURL into localPath if it is not there yet, or pulls
// the latest changes if it is.
func syncRepo(ctx context.Context, logger *slog.Logger, repoURL, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		logger.Info("cloning repository", "url", repoURL, "path", localPath)
		if _, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:   repoURL,
			Depth: 1,
		}); err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	logger.Info("pulling repository", "path", localPath)
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
	}
	err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
	}
	return nil
}

// repoDir maps a repository URL to a directory under baseDir, e.g.
// https://github.com/a/b.git and git@github.com:a/b.git both become
// baseDir/github.com/a/b.
func repoDir(baseDir, repoURL string) (string, error) {
	if strings.HasPrefix(repoURL, "git@") {
		hostAndPath := strings.TrimPrefix(repoURL, "git@")
		host, path, ok := strings.Cut(hostAndPath, ":")
		if !ok || host == "" || path == "" {
			return "", fmt.Errorf("could not parse git URL: %s", repoURL)
		}
		return filepath.Join(baseDir, host, strings.TrimSuffix(path, ".git")), nil
	}

	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	path := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	if path == "" || strings.Contains(path, "..") {
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return filepath.Join(baseDir, u.Host, path), nil
}
