package dedup

import "testing"

func TestUnionFind_Singletons(t *testing.T) {
	u := newUnionFind(3)
	comps := u.components()
	if len(comps) != 3 {
		t.Fatalf("expected 3 singletons, got %v", comps)
	}
}

func TestUnionFind_Transitive(t *testing.T) {
	u := newUnionFind(4)
	u.union(0, 1)
	u.union(1, 2)
	if u.find(0) != u.find(2) {
		t.Fatal("0 and 2 must share a root through 1")
	}
	if u.find(3) == u.find(0) {
		t.Fatal("3 must stay isolated")
	}
	comps := u.components()
	if len(comps) != 2 {
		t.Fatalf("expected {0,1,2} and {3}, got %v", comps)
	}
	if len(comps[0]) != 3 || comps[0][0] != 0 {
		t.Fatalf("first component should be {0,1,2}: %v", comps)
	}
}

func TestUnionFind_OrderIndependent(t *testing.T) {
	a := newUnionFind(5)
	a.union(0, 1)
	a.union(2, 3)
	a.union(1, 2)

	b := newUnionFind(5)
	b.union(1, 2)
	b.union(2, 3)
	b.union(0, 1)

	ca, cb := a.components(), b.components()
	if len(ca) != len(cb) {
		t.Fatalf("component counts differ: %v vs %v", ca, cb)
	}
	for i := range ca {
		if len(ca[i]) != len(cb[i]) {
			t.Fatalf("component %d differs: %v vs %v", i, ca, cb)
		}
		for j := range ca[i] {
			if ca[i][j] != cb[i][j] {
				t.Fatalf("component %d differs: %v vs %v", i, ca, cb)
			}
		}
	}
}

func TestUnionFind_RedundantEdges(t *testing.T) {
	u := newUnionFind(3)
	u.union(0, 1)
	u.union(1, 2)
	u.union(0, 2) // already connected
	if len(u.components()) != 1 {
		t.Fatalf("expected one component, got %v", u.components())
	}
}
