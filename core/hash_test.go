package core

import "testing"

func TestSerializeIsKeyOrderIndependent(t *testing.T) {
	a := CanonicalObject{"b": CInt(2), "a": CInt(1)}
	b := CanonicalObject{"a": CInt(1), "b": CInt(2)}
	if Serialize(a) != Serialize(b) {
		t.Fatalf("Serialize should sort object keys regardless of insertion order")
	}
}

func TestSerializeDistinguishesStringAndIntTags(t *testing.T) {
	s := Serialize(CString("1"))
	n := Serialize(CInt(1))
	if s == n {
		t.Fatalf("string \"1\" and int 1 serialized identically: %q", s)
	}
}

func TestBase64HashIsDeterministic(t *testing.T) {
	v := CanonicalObject{"unit": CString("x")}
	if Base64Hash(v) != Base64Hash(v) {
		t.Fatalf("Base64Hash is not deterministic")
	}
}

func TestIsValidHash(t *testing.T) {
	v := CanonicalObject{"unit": CString("x")}
	h := Base64Hash(v)
	if !IsValidHash(h) {
		t.Fatalf("IsValidHash rejected a freshly computed hash %q", h)
	}
	if IsValidHash("not a hash") {
		t.Fatalf("IsValidHash accepted a non-base64 string")
	}
	if IsValidHash("") {
		t.Fatalf("IsValidHash accepted an empty string")
	}
}

func TestBallHashOmitsEmptyFields(t *testing.T) {
	withNoExtras := BallHash("unit1", nil, nil, false)
	withParentBalls := BallHash("unit1", []string{"p1"}, nil, false)
	if withNoExtras == withParentBalls {
		t.Fatalf("ball hash did not change when parent_balls was added")
	}

	withNonserial := BallHash("unit1", nil, nil, true)
	if withNoExtras == withNonserial {
		t.Fatalf("ball hash did not change when is_nonserial flipped to true")
	}
}

func TestBallHashDeterministicOnParentOrder(t *testing.T) {
	a := BallHash("unit1", []string{"p1", "p2"}, nil, false)
	b := BallHash("unit1", []string{"p1", "p2"}, nil, false)
	if a != b {
		t.Fatalf("BallHash not deterministic for identical inputs")
	}
	c := BallHash("unit1", []string{"p2", "p1"}, nil, false)
	if a == c {
		t.Fatalf("BallHash ignored parent_balls order, which must be preserved per array semantics")
	}
}
