package typeid

import "testing"

type stringMsg string
type baseMsg struct{ Kind string }
type childMsg struct{ baseMsg }

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := NewScoped()
	if err := r.Register("string", stringMsg("")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("string", stringMsg("")); err != nil {
		t.Fatalf("idempotent re-register should succeed: %v", err)
	}
	if err := r.Register("string", 0); err == nil {
		t.Fatal("rebinding an id to a different type should fail")
	}
}

func TestRegistry_SupertypeChain(t *testing.T) {
	r := NewScoped()
	_ = r.Register("child", childMsg{})
	_ = r.Register("base", baseMsg{})
	if err := r.RegisterSupertype("child", "base"); err != nil {
		t.Fatalf("register supertype: %v", err)
	}
	chain := r.Chain("child")
	if len(chain) != 2 || chain[0] != "child" || chain[1] != "base" {
		t.Fatalf("unexpected chain: %v", chain)
	}
}

func TestRegistry_SupertypeCycleRejected(t *testing.T) {
	r := NewScoped()
	_ = r.RegisterSupertype("a", "b")
	_ = r.RegisterSupertype("b", "c")
	if err := r.RegisterSupertype("c", "a"); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestRegistry_LockRejectsFurtherRegistration(t *testing.T) {
	r := NewScoped()
	_ = r.Register("string", stringMsg(""))
	r.Lock("scheduler-1")
	if err := r.Register("other", 0); err == nil {
		t.Fatal("expected registration after lock to be rejected")
	}
	if err := r.RegisterSupertype("x", "y"); err == nil {
		t.Fatal("expected supertype edge after lock to be rejected")
	}
}

func TestRegistry_KnownAndTypeFor(t *testing.T) {
	r := NewScoped()
	if r.Known("string") {
		t.Fatal("unregistered id should not be known")
	}
	_ = r.Register("string", stringMsg(""))
	if !r.Known("string") {
		t.Fatal("registered id should be known")
	}
	typ, ok := r.TypeFor("string")
	if !ok || typ.Kind().String() != "string" {
		t.Fatalf("unexpected type: %v ok=%v", typ, ok)
	}
}
