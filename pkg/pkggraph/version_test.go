package pkggraph

import "testing"

func TestCompareOrdering(t *testing.T) {
	// Each pair is (older, newer).
	pairs := []struct {
		older, newer string
	}{
		{"1.0", "1.1"},
		{"1.0", "1.0.1"},
		{"1.9", "1.10"},
		{"1.0", "2.0"},
		{"2.4.7-1", "2.4.7-2"},
		{"2.4.7-2", "2.4.8-1"},
		{"1.0~rc1", "1.0"},
		{"1.0~rc1", "1.0~rc2"},
		{"1.0~~", "1.0~"},
		{"1.0~", "1.0"},
		{"1.0-1", "1:0.5"},
		{"1:1.0", "2:0.1"},
		{"1.0-1", "1.0-1.1"},
		{"1.0a", "1.0b"},
		{"1.0", "1.0a"},
		{"1.0+b1", "1.0+b2"},
		{"0.9", "1.0+really0.8"},
		{"1.2.3", "1.2.3-1"},
	}
	for _, p := range pairs {
		t.Run(p.older+"_vs_"+p.newer, func(t *testing.T) {
			if r := Compare(p.older, p.newer); r >= 0 {
				t.Errorf("Compare(%q, %q) = %d, want < 0", p.older, p.newer, r)
			}
			if r := Compare(p.newer, p.older); r <= 0 {
				t.Errorf("Compare(%q, %q) = %d, want > 0", p.newer, p.older, r)
			}
		})
	}
}

func TestCompareEqual(t *testing.T) {
	equal := [][2]string{
		{"1.0", "1.0"},
		{"0:1.0", "1.0"},
		{"1.0-0", "1.0-00"},
		{"2:1.5-1", "2:1.5-1"},
	}
	for _, pair := range equal {
		if r := Compare(pair[0], pair[1]); r != 0 {
			t.Errorf("Compare(%q, %q) = %d, want 0", pair[0], pair[1], r)
		}
	}
}

func TestCompareTildeSortsBeforeEmpty(t *testing.T) {
	if Compare("1.0~beta1", "1.0") >= 0 {
		t.Error("tilde suffix should sort before the bare version")
	}
	if Compare("1.0~beta1-1", "1.0~beta1") <= 0 {
		t.Error("revision should sort after no revision for same upstream")
	}
}

func TestCheckDep(t *testing.T) {
	tests := []struct {
		have string
		op   Op
		want string
		ok   bool
	}{
		{"1.2", OpGreaterEq, "1.0", true},
		{"1.2", OpGreaterEq, "1.2", true},
		{"1.2", OpGreater, "1.2", false},
		{"1.2", OpLess, "1.3", true},
		{"1.2", OpLessEq, "1.1", false},
		{"1.2", OpEqual, "1.2", true},
		{"1.2", OpEqual, "1.2-1", false},
		{"1.2", OpNotEqual, "1.2", false},
		{"anything", OpNone, "", true},
	}
	for _, tt := range tests {
		if got := CheckDep(tt.have, tt.op, tt.want); got != tt.ok {
			t.Errorf("CheckDep(%q, %s, %q) = %v, want %v", tt.have, tt.op, tt.want, got, tt.ok)
		}
	}
}

func TestParseOp(t *testing.T) {
	valid := map[string]Op{
		"":   OpNone,
		"<<": OpLess,
		"<":  OpLess,
		"<=": OpLessEq,
		"=":  OpEqual,
		">=": OpGreaterEq,
		">>": OpGreater,
		">":  OpGreater,
	}
	for s, want := range valid {
		op, ok := ParseOp(s)
		if !ok || op != want {
			t.Errorf("ParseOp(%q) = %v, %v; want %v, true", s, op, ok, want)
		}
	}
	if _, ok := ParseOp("~>"); ok {
		t.Error("ParseOp accepted an unknown operator")
	}
}
