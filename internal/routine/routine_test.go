package routine

import "testing"

func TestOnValidStep2Branches(t *testing.T) {
	e := New()

	cases := []struct {
		name string
		ctx  Context
		want int
	}{
		{"not found", Context{RecordFound: false}, 3},
		{"found, did not play last season", Context{RecordFound: true, PlayedLastSeason: false}, 32},
		{"found, played, kit needed", Context{RecordFound: true, PlayedLastSeason: true, KitNeeded: true}, 32},
		{"found, played, kit not needed", Context{RecordFound: true, PlayedLastSeason: true, KitNeeded: false}, 34},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := e.OnValid(2, c.ctx); got != c.want {
				t.Errorf("OnValid(2, %+v) = %d, want %d", c.ctx, got, c.want)
			}
		})
	}
}

func TestOnValidAgeHop(t *testing.T) {
	e := New()
	if got := e.OnValid(22, Context{AgeGroup: "U16"}); got != 23 {
		t.Errorf("U16 hop = %d, want 23", got)
	}
	if got := e.OnValid(22, Context{AgeGroup: "U18"}); got != 23 {
		t.Errorf("U18 hop = %d, want 23", got)
	}
	if got := e.OnValid(22, Context{AgeGroup: "U14"}); got != 28 {
		t.Errorf("U14 hop = %d, want 28", got)
	}
	if got := e.OnValid(22, Context{AgeGroup: "Open Age"}); got != 23 {
		t.Errorf("Open Age hop = %d, want 23", got)
	}
}

func TestOnValidAddressLookupFallback(t *testing.T) {
	e := New()
	if got := e.OnValid(13, Context{AddressLookupOK: true}); got != 15 {
		t.Errorf("parent lookup ok = %d, want 15", got)
	}
	if got := e.OnValid(13, Context{AddressLookupOK: false}); got != 14 {
		t.Errorf("parent lookup fail = %d, want 14", got)
	}
	if got := e.OnValid(19, Context{AddressLookupOK: true}); got != 21 {
		t.Errorf("child lookup ok = %d, want 21", got)
	}
	if got := e.OnValid(19, Context{AddressLookupOK: false}); got != 20 {
		t.Errorf("child lookup fail = %d, want 20", got)
	}
}

func TestOnValidSameAddress(t *testing.T) {
	e := New()
	if got := e.OnValid(16, Context{SameAddress: true}); got != 22 {
		t.Errorf("same address = %d, want 22", got)
	}
	if got := e.OnValid(16, Context{SameAddress: false}); got != 18 {
		t.Errorf("different address = %d, want 18", got)
	}
}

func TestOnValidKitRouting(t *testing.T) {
	e := New()
	if got := e.OnValid(30, Context{KitNeeded: true}); got != 32 {
		t.Errorf("kit needed = %d, want 32", got)
	}
	if got := e.OnValid(30, Context{KitNeeded: false}); got != 34 {
		t.Errorf("kit not needed = %d, want 34", got)
	}
}

func TestOnValidLinearAdvance(t *testing.T) {
	e := New()
	for n := 4; n <= 11; n++ {
		if got := e.OnValid(n, Context{}); got != n+1 {
			t.Errorf("OnValid(%d) = %d, want %d", n, got, n+1)
		}
	}
}

func TestOnInvalidStaysPut(t *testing.T) {
	e := New()
	for _, n := range []int{1, 3, 8, 25, 34} {
		if got := e.OnInvalid(n); got != n {
			t.Errorf("OnInvalid(%d) = %d, want %d", n, got, n)
		}
	}
}

func TestTerminalStepIsFixedPoint(t *testing.T) {
	e := New()
	if got := e.OnValid(Terminal, Context{}); got != Terminal {
		t.Errorf("OnValid(35) = %d, want 35", got)
	}
}

func TestAllStepsHaveADescriptor(t *testing.T) {
	e := New()
	for n := 1; n <= Terminal; n++ {
		if _, ok := e.Step(n); !ok {
			t.Errorf("missing step descriptor for %d", n)
		}
	}
}
