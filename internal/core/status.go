package core

// ComponentStatus is a health snapshot of one component.
type ComponentStatus struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Version     string       `json:"version"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	Dashboards  []string     `json:"dashboards,omitempty"`
}

// StatusService reports component health to clients. The component set is
// fixed at construction; health is read live from each component.
type StatusService struct {
	components []Component
}

func NewStatusService(components []Component) *StatusService {
	return &StatusService{components: components}
}

func (s *StatusService) List() []ComponentStatus {
	out := make([]ComponentStatus, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, describe(c))
	}
	return out
}

// Describe returns the status of id.
func (s *StatusService) Describe(id string) (ComponentStatus, bool) {
	for _, c := range s.components {
		if c.ID() == id {
			return describe(c), true
		}
	}
	return ComponentStatus{}, false
}

// Overall is the worst status among enabled components.
func (s *StatusService) Overall() HealthStatus {
	overall := HealthHealthy
	for _, st := range s.List() {
		switch st.Status {
		case HealthError:
			return HealthError
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return overall
}

func describe(c Component) ComponentStatus {
	manifest := c.Manifest()
	st := ComponentStatus{
		ID:          manifest.ID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      c.Health(),
		Message:     c.HealthMessage(),
	}
	for _, d := range c.Dashboards() {
		st.Dashboards = append(st.Dashboards, DashboardPath(manifest.ID, d.Name))
	}
	return st
}
