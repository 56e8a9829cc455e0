package regid

import "testing"

func TestAliasesX0ReturnsBothHalves(t *testing.T) {
	a := Aliases("x0")
	if len(a) != 2 || a[0] != "x0" || a[1] != "w0" {
		t.Fatalf("aliases(x0) = %v", a)
	}
}

func TestAliasesR0IsSingleton(t *testing.T) {
	a := Aliases("r0")
	if len(a) != 1 || a[0] != "r0" {
		t.Fatalf("aliases(r0) = %v", a)
	}
}

func TestAliasesSP(t *testing.T) {
	a := Aliases("sp")
	if len(a) != 1 || a[0] != "sp" {
		t.Fatalf("aliases(sp) = %v", a)
	}
}

func TestSetHasNameAfterAddViaEitherAlias(t *testing.T) {
	var s Set
	s = s.AddName("x3")
	if !s.HasName("w3") {
		t.Fatal("expected w3 to be a member after AddName(x3)")
	}
}

func TestSetRemoveNameClearsBothAliases(t *testing.T) {
	var s Set
	s = s.AddName("w7")
	s = s.RemoveName("x7")
	if s.HasName("w7") || s.HasName("x7") {
		t.Fatal("expected both aliases cleared")
	}
}

func TestSetUnrecognizedNameIgnored(t *testing.T) {
	var s Set
	s = s.AddName("xzr")
	if s != 0 {
		t.Fatalf("expected xzr to be ignored, got set=%#x", uint64(s))
	}
}

func TestBitOfDistinctForDistinctRegs(t *testing.T) {
	b1, ok1 := BitOf("r0")
	b2, ok2 := BitOf("r1")
	if !ok1 || !ok2 || b1 == b2 {
		t.Fatalf("expected distinct bits: %v %v", b1, b2)
	}
}
