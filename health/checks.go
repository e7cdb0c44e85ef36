package health

// Check status values reported by the registry.
const (
	CheckPassing  = "passing"
	CheckWarning  = "warning"
	CheckCritical = "critical"
)

// Check is a single health check result for a service instance.
type Check struct {
	Node        string `json:"node,omitempty"`
	CheckID     string `json:"check_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// State is the two-valued classification of a deployed instance.
type State int

const (
	// Defective covers instances that are registered but failing, or not
	// registered at all.
	Defective State = iota
	// Healthy means at least one registry entry has every check passing.
	Healthy
)

func (s State) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "defective"
}

// AllPassing reports whether every check is passing. An entry with no checks
// counts as passing, matching the registry's own semantics.
func AllPassing(checks []Check) bool {
	for _, c := range checks {
		if c.Status != CheckPassing {
			return false
		}
	}
	return true
}

// Classify returns Healthy iff at least one entry has all checks passing.
// No entries at all is Defective.
func Classify(entries [][]Check) State {
	for _, checks := range entries {
		if AllPassing(checks) {
			return Healthy
		}
	}
	return Defective
}
