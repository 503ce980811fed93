package domain

// Resources is a compute/memory/storage budget.
type Resources struct {
	CPU     int `json:"cpu"`
	Memory  int `json:"memory"`
	Storage int `json:"storage"`
}

// Covers reports whether r has at least q of every resource.
func (r Resources) Covers(q Resources) bool {
	return r.CPU >= q.CPU && r.Memory >= q.Memory && r.Storage >= q.Storage
}

// Sub returns r minus q.
func (r Resources) Sub(q Resources) Resources {
	return Resources{CPU: r.CPU - q.CPU, Memory: r.Memory - q.Memory, Storage: r.Storage - q.Storage}
}

// Add returns r plus q.
func (r Resources) Add(q Resources) Resources {
	return Resources{CPU: r.CPU + q.CPU, Memory: r.Memory + q.Memory, Storage: r.Storage + q.Storage}
}

// NonNegative reports whether every field is >= 0.
func (r Resources) NonNegative() bool {
	return r.CPU >= 0 && r.Memory >= 0 && r.Storage >= 0
}

// Server is a point-in-time view of a deployment target.
type Server struct {
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	Host             string    `json:"host"`
	Capacity         int       `json:"capacity"`
	Budget           Resources `json:"budget"`
	Available        Resources `json:"available"`
	DeployedProjects []string  `json:"deployedProjects"`
	Pending          int       `json:"pending"`
}
