// Package sink is an in-memory development collector implementing the three
// endpoints the SDK talks to. It backs the demo CLI and the integration
// tests; production traffic goes to a real collector.
package sink

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
	"github.com/apptracker/apptracker-go/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Service holds projects and received events in memory.
type Service struct {
	mu       sync.Mutex
	projects map[string]transport.Project // project key → project
	events   map[string][]event.Event     // project key → received events
}

// NewService creates an empty sink.
func NewService() *Service {
	return &Service{
		projects: make(map[string]transport.Project),
		events:   make(map[string][]event.Event),
	}
}

// RegisterRoutes registers the collector API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events/batch", s.BatchHandler)
	r.GET("/v1/projects", s.ListProjectsHandler)
	r.POST("/v1/projects", s.CreateProjectHandler)
}

// BatchHandler accepts a batch of events for a known project key.
func (s *Service) BatchHandler(c *gin.Context) {
	var req transport.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[req.ProjectKey]; !ok {
		slog.Warn("[Sink] Rejected batch for unknown project key")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown project key"})
		return
	}

	inserted := 0
	for _, ev := range req.Events {
		if err := ev.Validate(); err != nil {
			continue
		}
		s.events[req.ProjectKey] = append(s.events[req.ProjectKey], ev)
		inserted++
	}

	slog.Info("[Sink] Received batch", "events", len(req.Events), "inserted", inserted)
	c.JSON(http.StatusOK, transport.BatchResponse{
		Received: len(req.Events),
		Inserted: inserted,
	})
}

// ListProjectsHandler lists projects, optionally filtered by projectKey or
// name. The SDK's existence check filters by projectKey.
func (s *Service) ListProjectsHandler(c *gin.Context) {
	projectKey := c.Query("projectKey")
	name := c.Query("name")

	s.mu.Lock()
	defer s.mu.Unlock()

	projects := make([]transport.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if projectKey != "" && p.ProjectKey != projectKey {
			continue
		}
		if name != "" && p.Name != name {
			continue
		}
		projects = append(projects, p)
	}

	c.JSON(http.StatusOK, transport.ProjectsResponse{Projects: projects})
}

// CreateProjectHandler registers a new project and issues its key.
func (s *Service) CreateProjectHandler(c *gin.Context) {
	var req transport.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		if p.Name == req.Name {
			c.JSON(http.StatusConflict, gin.H{"error": "project already exists"})
			return
		}
	}

	project := transport.Project{
		Name:       req.Name,
		ProjectKey: "pk-" + uuid.NewString(),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		IsActive:   true,
	}
	s.projects[project.ProjectKey] = project

	slog.Info("[Sink] Created project", "project_name", project.Name)
	c.JSON(http.StatusCreated, project)
}

// AddProject seeds a project with a fixed key. Used by tests.
func (s *Service) AddProject(name, projectKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectKey] = transport.Project{
		Name:       name,
		ProjectKey: projectKey,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		IsActive:   true,
	}
}

// ProjectKeys returns the keys of all registered projects. Used by tests.
func (s *Service) ProjectKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.projects))
	for key := range s.projects {
		keys = append(keys, key)
	}
	return keys
}

// Events returns a copy of the events received for a project key.
func (s *Service) Events(projectKey string) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events[projectKey]))
	copy(out, s.events[projectKey])
	return out
}
