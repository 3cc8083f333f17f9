package cluster

import "testing"

func TestSmapCloneBumpsVersionAndCopiesHelpers(t *testing.T) {
	host := &Node{ID: "host-1", Role: "host"}
	s := NewSmap(host)
	s.Helpers["h1"] = &Node{ID: "h1", Role: "helper", Zone: "us-east"}

	c := s.Clone()
	if c.Version != s.Version+1 {
		t.Fatalf("Clone version = %d, want %d", c.Version, s.Version+1)
	}
	if len(c.Helpers) != 1 || c.Helpers["h1"].ID != "h1" {
		t.Fatalf("Clone did not copy helpers: %+v", c.Helpers)
	}

	c.Helpers["h2"] = &Node{ID: "h2", Role: "helper"}
	if _, ok := s.Helpers["h2"]; ok {
		t.Fatalf("mutating the clone's helper map affected the original")
	}
}

func TestHelpersInZoneFiltersByZoneCapacityAndMaintenance(t *testing.T) {
	host := &Node{ID: "host-1"}
	s := NewSmap(host)
	s.Helpers["a"] = &Node{ID: "a", Zone: "us-east", Capacity: 100}
	s.Helpers["b"] = &Node{ID: "b", Zone: "us-west", Capacity: 100}
	s.Helpers["c"] = &Node{ID: "c", Zone: "us-east", Capacity: 10}
	s.Helpers["d"] = &Node{ID: "d", Zone: "us-east", Capacity: 100, Flags: FlagMaintenance}

	got := s.HelpersInZone("us-east", 50)
	if len(got) != 1 || got[0].ID != "a" {
		ids := make([]string, len(got))
		for i, n := range got {
			ids[i] = n.ID
		}
		t.Fatalf("HelpersInZone(us-east, 50) = %v, want [a]", ids)
	}
}

func TestNodeFlagHelpers(t *testing.T) {
	n := &Node{Flags: FlagProxyCapable | FlagDraining}
	if !n.ProxyCapable() {
		t.Fatalf("ProxyCapable() = false, want true")
	}
	if n.InMaintenance() {
		t.Fatalf("InMaintenance() = true, want false")
	}
}

func TestOwnerPutNotifiesListeners(t *testing.T) {
	host := &Node{ID: "host-1"}
	initial := NewSmap(host)
	o := NewOwner(initial)

	var got *Smap
	o.Listen(func(s *Smap) { got = s })

	next := initial.Clone()
	o.Put(next)

	if got != next {
		t.Fatalf("listener was not invoked with the new Smap")
	}
	if o.Get() != next {
		t.Fatalf("Get() = %v, want the Smap passed to Put", o.Get())
	}
}
