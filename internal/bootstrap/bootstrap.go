// Package bootstrap resolves the delivery credential (project key) against
// the collector during SDK initialization.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apptracker/apptracker-go/internal/storage"
	"github.com/apptracker/apptracker-go/internal/transport"
)

// KeyProjectKey is the kv key the resolved credential is persisted under.
const KeyProjectKey = "project_key"

// ErrNoCredential is returned when no usable project key could be resolved:
// the provided and saved keys failed their existence checks (or were absent)
// and creating a new project failed too.
var ErrNoCredential = errors.New("no usable project key could be resolved")

// API is the slice of the collector client bootstrap needs.
type API interface {
	GetProjects(ctx context.Context, projectKey string) (*transport.ProjectsResponse, error)
	CreateProject(ctx context.Context, name string) (*transport.Project, error)
}

// Resolver resolves a project key once per initialization. Priority order,
// each step short-circuiting on success:
//
//  1. a caller-provided key that the collector recognizes,
//  2. a previously persisted key that the collector recognizes,
//  3. a freshly created project.
//
// No local state is mutated on failed attempts; a confirmed key is persisted
// so the next run can reuse it.
type Resolver struct {
	api API
	kv  storage.KeyValueStore
}

// NewResolver creates a credential resolver.
func NewResolver(api API, kv storage.KeyValueStore) *Resolver {
	return &Resolver{api: api, kv: kv}
}

// Resolve returns a usable project key or ErrNoCredential.
func (r *Resolver) Resolve(ctx context.Context, projectName, providedKey string) (string, error) {
	if providedKey != "" {
		if r.projectExists(ctx, providedKey) {
			if err := r.kv.Set(ctx, KeyProjectKey, providedKey); err != nil {
				return "", fmt.Errorf("failed to persist provided project key: %w", err)
			}
			slog.Info("[Bootstrap] Using provided project key")
			return providedKey, nil
		}
		slog.Warn("[Bootstrap] Provided project key not recognized by collector, falling back")
	}

	savedKey, ok, err := r.kv.Get(ctx, KeyProjectKey)
	if err != nil {
		return "", fmt.Errorf("failed to read saved project key: %w", err)
	}
	if ok && savedKey != "" {
		if r.projectExists(ctx, savedKey) {
			slog.Info("[Bootstrap] Using saved project key")
			return savedKey, nil
		}
		slog.Warn("[Bootstrap] Saved project key not recognized by collector, creating new project")
	}

	project, err := r.api.CreateProject(ctx, projectName)
	if err != nil {
		slog.Error("[Bootstrap] Failed to create project", "project_name", projectName, "error", err)
		return "", fmt.Errorf("%w: creating project %q: %v", ErrNoCredential, projectName, err)
	}
	if project.ProjectKey == "" {
		return "", fmt.Errorf("%w: collector issued an empty project key", ErrNoCredential)
	}

	if err := r.kv.Set(ctx, KeyProjectKey, project.ProjectKey); err != nil {
		return "", fmt.Errorf("failed to persist created project key: %w", err)
	}

	slog.Info("[Bootstrap] Created project", "project_name", project.Name)
	return project.ProjectKey, nil
}

// projectExists reports whether the collector recognizes the key. Existence
// is a success status plus a non-empty project list; any error reads as
// "does not exist" so resolution can fall through to the next source.
func (r *Resolver) projectExists(ctx context.Context, projectKey string) bool {
	resp, err := r.api.GetProjects(ctx, projectKey)
	if err != nil {
		slog.Debug("[Bootstrap] Project existence check failed", "error", err)
		return false
	}
	return len(resp.Projects) > 0
}
