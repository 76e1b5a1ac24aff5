package agent

// Registry is a client-name lookup table, grounded on pkg/driver's
// Driver Registry: one implementation per generative backend, selected
// by name at construction rather than compiled in behind a switch.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(c Client) {
	r.clients[c.Name()] = c
}

func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
