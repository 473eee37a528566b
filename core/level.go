package core

import "fmt"

// Level is a totally-ordered joint height with a distinct invalid sentinel
// (§2 "Level algebra"). Less is guarded: an invalid level never compares
// less than anything, including another invalid level, so callers must
// check Valid() before relying on it. LessForPrecedence instead sorts an
// invalid level strictly below every valid level.
type Level int64

const (
	// InvalidLevel marks a level that has not been computed yet.
	InvalidLevel Level = -2
	// MinimumLevel is the lowest level a computed joint (other than
	// genesis) can carry before it has parents resolved.
	MinimumLevel Level = -1
	// ZeroLevel is the genesis joint's level.
	ZeroLevel Level = 0
)

// Valid reports whether l is a real, comparable level.
func (l Level) Valid() bool { return l >= ZeroLevel }

// Less reports whether l < other, treating invalid levels as incomparable
// (per Design Note 9c: a sentinel level is never less than, equal to, or
// greater than any other level for the purposes of this method; callers
// needing the "sentinel sorts below everything" precedence rule use
// LessForPrecedence instead).
func (l Level) Less(other Level) bool {
	if !l.Valid() || !other.Valid() {
		return false
	}
	return l < other
}

// LessForPrecedence orders levels for best-parent precedence (§4.3), where
// an invalid witnessed level must sort strictly below every valid level
// (Design Note 9c) instead of being incomparable.
func (l Level) LessForPrecedence(other Level) bool {
	if !l.Valid() && !other.Valid() {
		return false
	}
	if !l.Valid() {
		return true
	}
	if !other.Valid() {
		return false
	}
	return l < other
}

// Equal reports whether l == other and both are valid.
func (l Level) Equal(other Level) bool {
	return l.Valid() && other.Valid() && l == other
}

// Add returns l+n, leaving an invalid level unchanged.
func (l Level) Add(n int) Level {
	if !l.Valid() {
		return l
	}
	return l + Level(n)
}

// Sub returns l-n, leaving an invalid level unchanged.
func (l Level) Sub(n int) Level {
	if !l.Valid() {
		return l
	}
	return l - Level(n)
}

func (l Level) String() string {
	if !l.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", int64(l))
}

// MaxLevel returns the greater of two levels, treating an invalid level as
// the smallest possible value (used by level = 1 + max(parent levels)).
func MaxLevel(a, b Level) Level {
	if !a.Valid() {
		return b
	}
	if !b.Valid() {
		return a
	}
	if a > b {
		return a
	}
	return b
}
