package sync

// unionFind tracks connectivity between keyed graph features (wire
// endpoints, labels, symbol pins) with union-by-rank and path compression.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// add registers a key as its own isolated group.
func (u *unionFind) add(key string) {
	if _, ok := u.parent[key]; !ok {
		u.parent[key] = key
		u.rank[key] = 0
	}
}

// find returns the representative key for the group containing key.
func (u *unionFind) find(key string) string {
	u.add(key)

	root := key
	for u.parent[root] != root {
		root = u.parent[root]
	}

	// Path compression
	current := key
	for current != root {
		next := u.parent[current]
		u.parent[current] = root
		current = next
	}

	return root
}

// union joins the groups containing a and b.
func (u *unionFind) union(a, b string) {
	rootA := u.find(a)
	rootB := u.find(b)
	if rootA == rootB {
		return
	}

	switch {
	case u.rank[rootA] < u.rank[rootB]:
		u.parent[rootA] = rootB
	case u.rank[rootA] > u.rank[rootB]:
		u.parent[rootB] = rootA
	default:
		u.parent[rootB] = rootA
		u.rank[rootA]++
	}
}
