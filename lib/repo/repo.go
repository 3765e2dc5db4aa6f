// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo lists the git repositories a user may point the bridge
// at. Repositories come from configured root directories (each
// immediate child that is a git working tree) and from explicit
// entries. Repositories are opened with go-git, so no git binary is
// needed.
package repo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Repository is one selectable working tree.
type Repository struct {
	Name   string `json:"name" cbor:"name"`
	Path   string `json:"path" cbor:"path"`
	Branch string `json:"branch,omitempty" cbor:"branch,omitempty"`
}

// Entry is an explicitly configured repository.
type Entry struct {
	Name string
	Path string
}

// Catalog discovers repositories on demand. It holds no state beyond
// its configuration, so every List reflects the filesystem at call
// time.
type Catalog struct {
	roots   []string
	entries []Entry
	logger  *slog.Logger
}

// NewCatalog creates a catalog over the given roots and explicit
// entries. A nil logger uses slog.Default.
func NewCatalog(roots []string, entries []Entry, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		roots:   append([]string(nil), roots...),
		entries: append([]Entry(nil), entries...),
		logger:  logger,
	}
}

// List returns every repository found, sorted by name then path.
// Explicit entries that are not git repositories are an error; root
// children that are not repositories are skipped silently.
func (catalog *Catalog) List() ([]Repository, error) {
	seen := make(map[string]bool)
	var repositories []Repository

	for _, entry := range catalog.entries {
		path, err := filepath.Abs(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", entry.Path, err)
		}
		repository, err := Open(path)
		if err != nil {
			return nil, err
		}
		if entry.Name != "" {
			repository.Name = entry.Name
		}
		if !seen[repository.Path] {
			seen[repository.Path] = true
			repositories = append(repositories, repository)
		}
	}

	for _, root := range catalog.roots {
		children, err := os.ReadDir(root)
		if err != nil {
			catalog.logger.Warn("skipping repository root", "root", root, "error", err)
			continue
		}
		for _, child := range children {
			if !child.IsDir() || strings.HasPrefix(child.Name(), ".") {
				continue
			}
			path, err := filepath.Abs(filepath.Join(root, child.Name()))
			if err != nil || seen[path] {
				continue
			}
			repository, err := Open(path)
			if errors.Is(err, git.ErrRepositoryNotExists) {
				continue
			}
			if err != nil {
				catalog.logger.Warn("skipping unreadable repository", "path", path, "error", err)
				continue
			}
			seen[path] = true
			repositories = append(repositories, repository)
		}
	}

	slices.SortFunc(repositories, func(a, b Repository) int {
		if order := strings.Compare(a.Name, b.Name); order != 0 {
			return order
		}
		return strings.Compare(a.Path, b.Path)
	})
	return repositories, nil
}

// Find returns the repository whose name or path equals nameOrPath.
func (catalog *Catalog) Find(nameOrPath string) (Repository, bool, error) {
	repositories, err := catalog.List()
	if err != nil {
		return Repository{}, false, err
	}
	for _, repository := range repositories {
		if repository.Name == nameOrPath || repository.Path == nameOrPath {
			return repository, true, nil
		}
	}
	return Repository{}, false, nil
}

// Open reads the repository at path. The error wraps
// git.ErrRepositoryNotExists when path is not a git working tree.
func Open(path string) (Repository, error) {
	repository, err := git.PlainOpen(path)
	if err != nil {
		return Repository{}, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return Repository{
		Name:   filepath.Base(path),
		Path:   path,
		Branch: currentBranch(repository),
	}, nil
}

// currentBranch names the checked-out branch. A repository with no
// commits still reports the branch HEAD points at; a detached HEAD
// reports its abbreviated hash.
func currentBranch(repository *git.Repository) string {
	head, err := repository.Reference(plumbing.HEAD, false)
	if err != nil {
		return ""
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short()
	}
	hash := head.Hash().String()
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return hash
}
