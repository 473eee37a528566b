package core

import "testing"

func TestLevelValid(t *testing.T) {
	if InvalidLevel.Valid() {
		t.Fatalf("InvalidLevel.Valid() = true, want false")
	}
	if !ZeroLevel.Valid() {
		t.Fatalf("ZeroLevel.Valid() = false, want true")
	}
	if MinimumLevel.Valid() {
		t.Fatalf("MinimumLevel.Valid() = true, want false (sentinel below ZeroLevel)")
	}
}

func TestLevelLessGuardsInvalid(t *testing.T) {
	if InvalidLevel.Less(ZeroLevel) {
		t.Fatalf("invalid level compared less than a valid one under Less")
	}
	if ZeroLevel.Less(InvalidLevel) {
		t.Fatalf("valid level compared less than an invalid one under Less")
	}
	if !ZeroLevel.Less(Level(1)) {
		t.Fatalf("0 < 1 should hold")
	}
}

func TestLevelLessForPrecedenceSortsInvalidBelow(t *testing.T) {
	if !InvalidLevel.LessForPrecedence(ZeroLevel) {
		t.Fatalf("invalid level must sort below a valid level for precedence")
	}
	if ZeroLevel.LessForPrecedence(InvalidLevel) {
		t.Fatalf("valid level must not sort below an invalid one for precedence")
	}
	if InvalidLevel.LessForPrecedence(InvalidLevel) {
		t.Fatalf("two invalid levels must not compare less than each other")
	}
}

func TestLevelEqual(t *testing.T) {
	if InvalidLevel.Equal(InvalidLevel) {
		t.Fatalf("two invalid levels must never be Equal")
	}
	if !Level(5).Equal(Level(5)) {
		t.Fatalf("5 should equal 5")
	}
}

func TestLevelAddSubLeaveInvalidUnchanged(t *testing.T) {
	if got := InvalidLevel.Add(3); got != InvalidLevel {
		t.Fatalf("Add on invalid level = %v, want unchanged", got)
	}
	if got := InvalidLevel.Sub(3); got != InvalidLevel {
		t.Fatalf("Sub on invalid level = %v, want unchanged", got)
	}
	if got := Level(5).Add(3); got != Level(8) {
		t.Fatalf("5.Add(3) = %v, want 8", got)
	}
}

func TestMaxLevel(t *testing.T) {
	if got := MaxLevel(InvalidLevel, Level(4)); got != Level(4) {
		t.Fatalf("MaxLevel(invalid, 4) = %v, want 4", got)
	}
	if got := MaxLevel(Level(7), Level(4)); got != Level(7) {
		t.Fatalf("MaxLevel(7, 4) = %v, want 7", got)
	}
	if got := MaxLevel(InvalidLevel, InvalidLevel); got != InvalidLevel {
		t.Fatalf("MaxLevel(invalid, invalid) = %v, want invalid", got)
	}
}
