package transport

import "github.com/apptracker/apptracker-go/internal/event"

// BatchRequest is the body of POST /v1/events/batch.
type BatchRequest struct {
	ProjectKey string        `json:"projectKey"`
	Events     []event.Event `json:"events"`
}

// BatchResponse is the collector's acknowledgement of a batch.
type BatchResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

// Project describes one project registered with the collector.
type Project struct {
	Name       string `json:"name"`
	ProjectKey string `json:"projectKey"`
	CreatedAt  string `json:"createdAt"`
	IsActive   bool   `json:"isActive"`
}

// ProjectsResponse is the body of GET /v1/projects.
type ProjectsResponse struct {
	Projects []Project `json:"projects"`
}

// CreateProjectRequest is the body of POST /v1/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
}
