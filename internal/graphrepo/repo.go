// Package graphrepo keeps the permission graph definition under version
// control so that every reload names the exact revision it came from.
package graphrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agora/governance/internal/rbac"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	graphFile     = "permissions.yaml"
	defaultBranch = "main"
)

type Revision struct {
	Hash    string
	Author  string
	Message string
	When    time.Time
}

type Repo struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Repo {
	return &Repo{path: path}
}

// Publish writes def as the new head of main, creating the repository on
// first use.
func (r *Repo) Publish(def rbac.Definition, author, message string) (Revision, error) {
	if _, err := rbac.Expand(def); err != nil {
		return Revision{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := r.openOrInit()
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	def.Version = ""
	payload, err := rbac.MarshalYAML(def)
	if err != nil {
		return Revision{}, err
	}
	if err := os.WriteFile(filepath.Join(r.path, graphFile), payload, 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", graphFile, err)
	}
	if _, err := worktree.Add(graphFile); err != nil {
		return Revision{}, fmt.Errorf("git add %s: %w", graphFile, err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: author + "@governor.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit permission graph: %w", err)
	}
	branch := plumbing.NewBranchReferenceName(defaultBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, hash)); err != nil {
		return Revision{}, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return Revision{}, fmt.Errorf("set HEAD to main: %w", err)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commit), nil
}

// Load expands the graph stored at ref, which may be a branch, a tag or a
// commit hash. The graph's version is the resolved commit hash.
func (r *Repo) Load(ref string) (*rbac.Graph, Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("open repo: %w", err)
	}
	if ref == "" {
		ref = defaultBranch
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, Revision{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read commit %s: %w", ref, err)
	}

	def, err := readDefinition(commit)
	if err != nil {
		return nil, Revision{}, err
	}
	def.Version = commit.Hash.String()
	graph, err := rbac.Expand(def)
	if err != nil {
		return nil, Revision{}, err
	}
	return graph, toRevision(commit), nil
}

func (r *Repo) History(limit int) ([]Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Reference(plumbing.NewBranchReferenceName(defaultBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", defaultBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, limit)
	for {
		commit, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate log: %w", err)
		}
		items = append(items, toRevision(commit))
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (r *Repo) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(r.path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(r.path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(r.path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func readDefinition(commit *object.Commit) (rbac.Definition, error) {
	file, err := commit.File(graphFile)
	if err != nil {
		return rbac.Definition{}, fmt.Errorf("load %s from commit: %w", graphFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return rbac.Definition{}, fmt.Errorf("open %s reader: %w", graphFile, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return rbac.Definition{}, fmt.Errorf("read %s: %w", graphFile, err)
	}
	return rbac.ParseYAML(data)
}

func toRevision(commit *object.Commit) Revision {
	return Revision{
		Hash:    commit.Hash.String(),
		Author:  commit.Author.Name,
		Message: commit.Message,
		When:    commit.Author.When,
	}
}
