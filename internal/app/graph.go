package app

import (
	"fmt"
	"log"
	"strings"

	"agora/governance/internal/config"
	"agora/governance/internal/graphrepo"
	"agora/governance/internal/rbac"
)

// LoadGraph reads the permission graph from the configured source: a git
// repository at a ref, a YAML file, or the built-in default.
func LoadGraph(cfg config.Config) (*rbac.Graph, error) {
	switch {
	case strings.TrimSpace(cfg.PermissionsRepo) != "":
		graph, rev, err := graphrepo.New(cfg.PermissionsRepo).Load(cfg.PermissionsRef)
		if err != nil {
			return nil, fmt.Errorf("load permission graph from %s@%s: %w", cfg.PermissionsRepo, cfg.PermissionsRef, err)
		}
		log.Printf("rbac: loaded graph %s (%s by %s)", rev.Hash, strings.TrimSpace(rev.Message), rev.Author)
		return graph, nil
	case strings.TrimSpace(cfg.PermissionsFile) != "":
		graph, err := rbac.LoadFile(cfg.PermissionsFile)
		if err != nil {
			return nil, fmt.Errorf("load permission graph from %s: %w", cfg.PermissionsFile, err)
		}
		return graph, nil
	default:
		return rbac.Default(), nil
	}
}
