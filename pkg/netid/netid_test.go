package netid

import (
	"net/netip"
	"testing"
)

func TestIdentityKindsAreExclusive(t *testing.T) {
	ids := []Identity{
		FromNative(NativeConn{UUID: 7, Addr: netip.MustParseAddrPort("127.0.0.1:9000"), Mode: ModeTCP}),
		FromNative(NativeConn{UUID: 7, Addr: netip.MustParseAddrPort("127.0.0.1:9001"), Mode: ModeUDP}),
		FromRemote(0),
		FromRemote(42),
	}
	for _, id := range ids {
		if id.IsNative() == id.IsRemote() {
			t.Fatalf("%s: native=%v remote=%v", id, id.IsNative(), id.IsRemote())
		}
		if !id.IsValid() {
			t.Fatalf("%s reported invalid", id)
		}
	}
	var zero Identity
	if zero.IsValid() || zero.IsNative() || zero.IsRemote() {
		t.Fatalf("zero identity must be invalid")
	}
}

func TestIdentityAccessors(t *testing.T) {
	nc := NativeConn{UUID: 1, Addr: netip.MustParseAddrPort("10.0.0.1:7000"), Mode: ModeTCP}
	id := FromNative(nc)
	if got, ok := id.Native(); !ok || got != nc {
		t.Fatalf("Native() = %v, %v", got, ok)
	}
	if _, ok := id.Remote(); ok {
		t.Fatalf("Remote() on native identity must fail")
	}

	rid := FromRemote(5)
	if h, ok := rid.Remote(); !ok || h != 5 {
		t.Fatalf("Remote() = %v, %v", h, ok)
	}
	if _, ok := rid.Native(); ok {
		t.Fatalf("Native() on remote identity must fail")
	}
}

func TestIdentityMatch(t *testing.T) {
	var native, remote int
	onNative := func(NativeConn) { native++ }
	onRemote := func(RemoteHandle) { remote++ }

	FromNative(NativeConn{UUID: 3}).Match(onNative, onRemote)
	FromRemote(3).Match(onNative, onRemote)
	if (Identity{}).Match(onNative, onRemote) {
		t.Fatalf("invalid identity matched")
	}
	if native != 1 || remote != 1 {
		t.Fatalf("native=%d remote=%d", native, remote)
	}
}

func TestIdentityEquality(t *testing.T) {
	addr := netip.MustParseAddrPort("127.0.0.1:4000")
	a := FromNative(NativeConn{UUID: 9, Addr: addr, Mode: ModeTCP})
	b := FromNative(NativeConn{UUID: 9, Addr: addr, Mode: ModeTCP})
	c := FromNative(NativeConn{UUID: 9, Addr: addr, Mode: ModeUDP})
	if a != b {
		t.Fatalf("equal native ids compare unequal")
	}
	if a == c {
		t.Fatalf("mode must take part in equality")
	}
	if FromRemote(9) == FromNative(NativeConn{UUID: 9}) {
		t.Fatalf("kinds must take part in equality")
	}
	set := map[Identity]struct{}{a: {}, c: {}, FromRemote(1): {}}
	if _, ok := set[b]; !ok || len(set) != 3 {
		t.Fatalf("identity not usable as map key: %v", set)
	}
}
