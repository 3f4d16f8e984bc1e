package raop

import "testing"

func TestRegistryCreateAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry()
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		d := reg.Create(StartupConfig{}, testLogger(), nil)
		if seen[d.ActiveRemoteID()] {
			t.Fatalf("duplicate active_remote_id assigned: %s", d.ActiveRemoteID())
		}
		seen[d.ActiveRemoteID()] = true
	}
}

func TestRegistryReleaseFreesID(t *testing.T) {
	reg := NewRegistry()
	d := reg.Create(StartupConfig{}, testLogger(), nil)
	id := d.ActiveRemoteID()

	reg.Release(d)

	if _, taken := reg.active[id]; taken {
		t.Fatalf("expected %s to be released", id)
	}
}
