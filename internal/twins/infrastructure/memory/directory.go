package memory

import (
	"context"
	"sort"
	"sync"

	twins "twin-rules/internal/twins/domain"
)

// Directory is an in-memory twin directory for replay and testing.
// Relationships are undirected for the purpose of FindRelated.
type Directory struct {
	mu      sync.RWMutex
	twins   map[string]twins.Twin
	extends map[string][]string
	edges   map[string]map[string]struct{}
	version int64
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		twins:   make(map[string]twins.Twin),
		extends: make(map[string][]string),
		edges:   make(map[string]map[string]struct{}),
	}
}

// Upsert adds or replaces a twin.
func (d *Directory) Upsert(twin twins.Twin) error {
	if err := twin.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.twins[twin.ID] = twin
	d.version++
	return nil
}

// Remove deletes a twin and its relationships.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.twins, id)
	for other := range d.edges[id] {
		delete(d.edges[other], id)
	}
	delete(d.edges, id)
	d.version++
}

// Relate links two twins.
func (d *Directory) Relate(a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.link(a, b)
	d.link(b, a)
	d.version++
}

func (d *Directory) link(from, to string) {
	set, ok := d.edges[from]
	if !ok {
		set = make(map[string]struct{})
		d.edges[from] = set
	}
	set[to] = struct{}{}
}

// Extend records that model inherits from parent.
func (d *Directory) Extend(model, parent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extends[model] = append(d.extends[model], parent)
	d.version++
}

// Get implements twins.Directory.
func (d *Directory) Get(ctx context.Context, twinID string) (*twins.Twin, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	twin, ok := d.twins[twinID]
	if !ok {
		return nil, twins.ErrNotFound
	}
	return &twin, nil
}

// ListByModel implements twins.Directory. Twins are ordered by id.
func (d *Directory) ListByModel(ctx context.Context, modelID string) ([]twins.Twin, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []twins.Twin
	for _, twin := range d.twins {
		if d.isA(twin.ModelID, modelID) {
			out = append(out, twin)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindRelated implements twins.Directory with a breadth-first search. Twins at
// the same distance are ordered by id.
func (d *Directory) FindRelated(ctx context.Context, twinID, modelID string, maxHops int) ([]twins.Twin, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.twins[twinID]; !ok {
		return nil, twins.ErrNotFound
	}

	visited := map[string]struct{}{twinID: {}}
	frontier := []string{twinID}
	var out []twins.Twin
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for neighbour := range d.edges[id] {
				if _, seen := visited[neighbour]; seen {
					continue
				}
				visited[neighbour] = struct{}{}
				next = append(next, neighbour)
			}
		}
		sort.Strings(next)
		for _, id := range next {
			twin, ok := d.twins[id]
			if ok && d.isA(twin.ModelID, modelID) {
				out = append(out, twin)
			}
		}
		frontier = next
	}
	return out, nil
}

// ResolveCandidate implements twins.Directory.
func (d *Directory) ResolveCandidate(ctx context.Context, modelID, twinID string) (*twins.Twin, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	twin, ok := d.twins[twinID]
	if !ok || !d.isA(twin.ModelID, modelID) {
		return nil, twins.ErrNotFound
	}
	return &twin, nil
}

// Version implements twins.Directory.
func (d *Directory) Version(ctx context.Context) (int64, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, nil
}

func (d *Directory) isA(model, target string) bool {
	seen := make(map[string]struct{})
	queue := []string{model}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == target {
			return true
		}
		if _, ok := seen[current]; ok {
			continue
		}
		seen[current] = struct{}{}
		queue = append(queue, d.extends[current]...)
	}
	return false
}
