package ring

import "testing"

func TestSPSCFIFO(t *testing.T) {
	r := NewSPSC[int](4)
	for i := 0; i < 4; i++ {
		if dropped := r.Push(i); dropped {
			t.Fatalf("unexpected drop at %d", i)
		}
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("want %d, got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty")
	}
}

func TestSPSCDropOldest(t *testing.T) {
	r := NewSPSC[int](2) // rounds to 2
	r.Push(1)
	r.Push(2)
	dropped := r.Push(3) // evicts 1
	if !dropped {
		t.Fatal("expected drop")
	}
	if r.Drops() != 1 {
		t.Fatalf("want 1 drop, got %d", r.Drops())
	}
	v, ok := r.Pop()
	if !ok || v != 2 {
		t.Fatalf("want 2, got %d", v)
	}
}

func TestSPMCIndependentCursors(t *testing.T) {
	r := NewSPMC[int](8)
	fast := r.NewCursor()
	slow := r.NewCursor()

	for i := 0; i < 3; i++ {
		r.Push(i)
	}

	for i := 0; i < 3; i++ {
		v, ok := fast.Pop()
		if !ok || v != i {
			t.Fatalf("fast: want %d got %d", i, v)
		}
	}

	// slow hasn't read anything yet; still sees all 3 in order.
	for i := 0; i < 3; i++ {
		v, ok := slow.Pop()
		if !ok || v != i {
			t.Fatalf("slow: want %d got %d", i, v)
		}
	}
}

func TestSPMCSkipAheadOnLag(t *testing.T) {
	r := NewSPMC[int](4)
	c := r.NewCursor()
	for i := 0; i < 20; i++ {
		r.Push(i)
	}
	if c.Lag() == 0 {
		t.Fatal("expected lag")
	}
	c.SkipAhead()
	if c.Lag() != 0 {
		t.Fatalf("expected zero lag after skip, got %d", c.Lag())
	}
	if _, ok := c.Pop(); ok {
		t.Fatal("expected no new entries immediately after skip-ahead")
	}
}
