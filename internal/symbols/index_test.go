package symbols

import "testing"

func newIndex(t *testing.T) *Index {
	t.Helper()
	x, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	err = x.Rebuild(map[string]string{
		"2330": "台積電",
		"2317": "鴻海",
		"2454": "聯發科",
		"AAPL": "Apple",
		"AMZN": "Amazon",
		"MSFT": "Microsoft",
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return x
}

func TestSuggestSymbolPrefix(t *testing.T) {
	x := newIndex(t)
	if x.Len() != 6 {
		t.Fatalf("Len = %d, want 6", x.Len())
	}
	got, err := x.Suggest("23", 10)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Suggest(23) = %v, want 2330 and 2317", got)
	}
	for _, s := range got {
		if s.Symbol != "2330" && s.Symbol != "2317" {
			t.Errorf("unexpected hit %+v", s)
		}
	}
}

func TestSuggestExactSymbolFirst(t *testing.T) {
	x := newIndex(t)
	got, err := x.Suggest("aapl", 3)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) == 0 || got[0].Symbol != "AAPL" || got[0].Name != "Apple" {
		t.Fatalf("Suggest(aapl) = %v, want AAPL first", got)
	}
}

func TestSuggestByName(t *testing.T) {
	x := newIndex(t)
	got, err := x.Suggest("Microsoft", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) == 0 || got[0].Symbol != "MSFT" {
		t.Fatalf("Suggest(Microsoft) = %v, want MSFT", got)
	}
}

func TestSuggestBlankAndLimit(t *testing.T) {
	x := newIndex(t)
	if got, _ := x.Suggest("  ", 5); len(got) != 0 {
		t.Errorf("Suggest(blank) = %v, want empty", got)
	}
	got, err := x.Suggest("a", 1)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) > 1 {
		t.Errorf("Suggest limit ignored: %v", got)
	}
}

func TestRebuildReplaces(t *testing.T) {
	x := newIndex(t)
	if err := x.Rebuild(map[string]string{"NVDA": "Nvidia"}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got, _ := x.Suggest("aapl", 5); len(got) != 0 {
		t.Errorf("old entries still indexed: %v", got)
	}
	if got, _ := x.Suggest("nv", 5); len(got) != 1 {
		t.Errorf("Suggest(nv) = %v, want NVDA", got)
	}
}
