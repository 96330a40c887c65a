package graph

// Collection keeps the entities of one kind in build order, indexed by key.
type Collection[T any] struct {
	kind  Kind
	key   func(*T) string
	items []T
	index map[string]int
}

func newCollection[T any](kind Kind, key func(*T) string) *Collection[T] {
	return &Collection[T]{kind: kind, key: key, index: map[string]int{}}
}

// Build adds the entity. An entity whose key was already built replaces the previous
// one in place and Build returns false.
func (c *Collection[T]) Build(e T) bool {
	k := c.key(&e)
	if i, ok := c.index[k]; ok {
		c.items[i] = e
		return false
	}
	c.index[k] = len(c.items)
	c.items = append(c.items, e)
	return true
}

// LazyFind returns a reference to key whether or not it was built yet.
func (c *Collection[T]) LazyFind(key string) Ref {
	if key == "" {
		return Ref{}
	}
	return Ref{Kind: c.kind, Key: key}
}

func (c *Collection[T]) Find(key string) (*T, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return &c.items[i], true
}

func (c *Collection[T]) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

func (c *Collection[T]) Items() []T {
	return c.items
}

func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Scope tells the persister which prior entities a graph replaces.
type Scope struct {
	// VMs limits a targeted pass to these vm ems_refs. Empty means full pass.
	VMs []string
}

func (s Scope) Full() bool {
	return len(s.VMs) == 0
}

// Builder collects one pass into per-kind batches.
type Builder struct {
	Clusters  *Collection[Cluster]
	Hosts     *Collection[Host]
	Storages  *Collection[Storage]
	VMs       *Collection[VM]
	Snapshots *Collection[Snapshot]
	scope     Scope
}

func NewBuilder(scope Scope) *Builder {
	return &Builder{
		Clusters:  newCollection(KindCluster, func(c *Cluster) string { return c.EmsRef }),
		Hosts:     newCollection(KindHost, func(h *Host) string { return h.EmsRef }),
		Storages:  newCollection(KindStorage, func(s *Storage) string { return s.EmsRef }),
		VMs:       newCollection(KindVM, func(v *VM) string { return v.EmsRef }),
		Snapshots: newCollection(KindSnapshot, func(s *Snapshot) string { return s.UID }),
		scope:     scope,
	}
}

// Graph is the frozen result of a pass.
type Graph struct {
	Scope     Scope
	Clusters  []Cluster
	Hosts     []Host
	Storages  []Storage
	VMs       []VM
	Snapshots []Snapshot
}

func (b *Builder) Graph() *Graph {
	return &Graph{
		Scope:     b.scope,
		Clusters:  b.Clusters.Items(),
		Hosts:     b.Hosts.Items(),
		Storages:  b.Storages.Items(),
		VMs:       b.VMs.Items(),
		Snapshots: b.Snapshots.Items(),
	}
}

// Empty reports whether the pass produced nothing, as after a failed backbone call.
func (g *Graph) Empty() bool {
	return len(g.Hosts) == 0 && len(g.VMs) == 0 && len(g.Storages) == 0
}
