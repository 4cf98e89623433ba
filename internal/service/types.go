package service

import "github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"

// Category groups services in listings.
type Category string

const (
	CategoryIPC    Category = "ipc"
	CategoryGrants Category = "grants"
)

// Service describes a provider and the tools it exposes.
type Service struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     Category `json:"category"`
	Capabilities []string `json:"capabilities"`
	Tools        []Tool   `json:"tools"`
}

// Tool returns the tool with the given ID.
func (s Service) Tool(id string) (Tool, bool) {
	for _, t := range s.Tools {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}

// Tool is one operation of a service. IDs are "<service>.<tool>".
type Tool struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Returns     string      `json:"returns"`
}

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Caller names the process a tool acts as.
type Caller struct {
	Endpoint endpoint.Endpoint `json:"endpoint"`
	Name     string            `json:"name,omitempty"`
}

// Result is the outcome of a tool call. Errno carries the kernel status code on failure.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *string        `json:"error,omitempty"`
	Errno   int32          `json:"errno,omitempty"`
}
