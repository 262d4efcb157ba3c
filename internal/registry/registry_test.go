package registry

import (
	"sync"
	"testing"

	"arbitrage/internal/model"
)

func TestInternAllocatesStableIds(t *testing.T) {
	r := New(0)

	id1, err := r.Intern(model.VenueA, "BTC-PERP")
	if err != nil {
		t.Fatalf("Intern() error = %v", err)
	}
	id2, err := r.Intern(model.VenueA, "BTC-PERP")
	if err != nil {
		t.Fatalf("second Intern() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("Intern() returned different ids for the same (venue, symbol): %d != %d", id1, id2)
	}

	id3, err := r.Intern(model.VenueB, "BTC-PERP")
	if err != nil {
		t.Fatalf("Intern() error = %v", err)
	}
	if id3 == id1 {
		t.Error("distinct venues quoting the same symbol must get distinct ids")
	}
}

func TestResolveRoundTrips(t *testing.T) {
	r := New(0)
	id, err := r.Intern(model.VenueC, "ETH-PERP")
	if err != nil {
		t.Fatalf("Intern() error = %v", err)
	}
	venue, symbol, ok := r.Resolve(id)
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if venue != model.VenueC || symbol != "ETH-PERP" {
		t.Errorf("Resolve() = (%v, %q), want (%v, %q)", venue, symbol, model.VenueC, "ETH-PERP")
	}
}

func TestResolveUnknownId(t *testing.T) {
	r := New(0)
	_, _, ok := r.Resolve(model.SymbolId(999))
	if ok {
		t.Error("Resolve() of an unallocated id should report ok=false")
	}
}

func TestRegistryFullIsFatalCondition(t *testing.T) {
	r := New(1)
	if _, err := r.Intern(model.VenueA, "BTC-PERP"); err != nil {
		t.Fatalf("first Intern() should succeed, got %v", err)
	}
	if _, err := r.Intern(model.VenueB, "ETH-PERP"); err != ErrRegistryFull {
		t.Errorf("Intern() over capacity error = %v, want ErrRegistryFull", err)
	}
}

func TestVenuesForSymbolGroupsAcrossVenues(t *testing.T) {
	r := New(0)
	idA, _ := r.Intern(model.VenueA, "BTC-PERP")
	idB, _ := r.Intern(model.VenueB, "BTC-PERP")

	venues := r.VenuesForSymbol("BTC-PERP")
	if len(venues) != 2 {
		t.Fatalf("VenuesForSymbol() len = %d, want 2", len(venues))
	}
	if venues[model.VenueA] != idA || venues[model.VenueB] != idB {
		t.Error("VenuesForSymbol() returned wrong id mapping")
	}
}

func TestVenuesForSymbolMapIsACopy(t *testing.T) {
	r := New(0)
	r.Intern(model.VenueA, "BTC-PERP")
	venues := r.VenuesForSymbol("BTC-PERP")
	venues[model.VenueD] = 999
	if _, ok := r.VenuesForSymbol("BTC-PERP")[model.VenueD]; ok {
		t.Error("VenuesForSymbol() must return a copy, not the internal map")
	}
}

func TestSymbolText(t *testing.T) {
	r := New(0)
	id, _ := r.Intern(model.VenueA, "SOL-PERP")
	text, ok := r.SymbolText(id)
	if !ok || text != "SOL-PERP" {
		t.Errorf("SymbolText() = (%q, %v), want (%q, true)", text, ok, "SOL-PERP")
	}
}

func TestPreloadInternsRoster(t *testing.T) {
	r := New(0)
	pairs := [][2]string{{"A", "BTC-PERP"}, {"B", "BTC-PERP"}, {"A", "ETH-PERP"}}
	venueOf := func(s string) model.VenueId {
		switch s {
		case "A":
			return model.VenueA
		case "B":
			return model.VenueB
		default:
			return model.VenueUnknown
		}
	}
	if err := r.Preload(pairs, venueOf); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

// TestInternConcurrentSameKey exercises the optimistic-insert/re-check path:
// many goroutines interning the same (venue, symbol) must all observe the
// same id and never overflow the counter.
func TestInternConcurrentSameKey(t *testing.T) {
	r := New(0)
	const workers = 64

	var wg sync.WaitGroup
	ids := make([]model.SymbolId, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Intern(model.VenueA, "BTC-PERP")
			if err != nil {
				t.Errorf("Intern() error = %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent Intern() of the same key produced divergent ids: %d != %d", ids[i], ids[0])
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only one distinct key was interned)", r.Len())
	}
}
