package core

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
)

// Canonical serialization (§6) is a deterministic, type-tagged, sort-keyed
// form: object keys are sorted lexicographically at each level, arrays
// preserve element order, and every scalar carries a one-byte type tag so
// that e.g. the string "1" and the number 1 never collide. This mirrors
// object_hash.rs's get_source_string, whose own serializer (obj_ser.rs) was
// not present in the retrieved reference sources; the join separator below
// (a single NUL byte between tag+value components) is this implementation's
// documented choice where the source was silent — see DESIGN.md.
const fieldSep = byte(0)

// CanonicalValue is the minimal algebraic value type the serializer accepts:
// string, int64, bool, []CanonicalValue or CanonicalObject. Building request
// payloads as this tree (rather than reflecting over structs) keeps the
// serializer's behavior exactly specified at every call site.
type CanonicalValue interface{ canonical() }

type CString string
type CInt int64
type CBool bool
type CArray []CanonicalValue

// CanonicalObject is an ordered-at-serialization-time map: keys are sorted
// lexicographically by Serialize regardless of insertion order.
type CanonicalObject map[string]CanonicalValue

func (CString) canonical()        {}
func (CInt) canonical()           {}
func (CBool) canonical()          {}
func (CArray) canonical()         {}
func (CanonicalObject) canonical() {}

// Serialize produces the canonical source string for v.
func Serialize(v CanonicalValue) string {
	var buf []byte
	buf = appendCanonical(buf, v)
	return string(buf)
}

func appendCanonical(buf []byte, v CanonicalValue) []byte {
	switch t := v.(type) {
	case CString:
		buf = append(buf, 's')
		buf = append(buf, string(t)...)
	case CInt:
		buf = append(buf, 'n')
		buf = append(buf, strconv.FormatInt(int64(t), 10)...)
	case CBool:
		buf = append(buf, 'b')
		if t {
			buf = append(buf, "true"...)
		} else {
			buf = append(buf, "false"...)
		}
	case CArray:
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, fieldSep)
			}
			buf = appendCanonical(buf, e)
		}
		buf = append(buf, ']')
	case CanonicalObject:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, fieldSep)
			}
			buf = append(buf, 's')
			buf = append(buf, k...)
			buf = append(buf, ':')
			buf = appendCanonical(buf, t[k])
		}
		buf = append(buf, '}')
	default:
		panic(fmt.Sprintf("core: unhandled canonical value type %T", v))
	}
	return buf
}

// Sha256Sum returns the raw SHA-256 digest of the canonical form of v.
func Sha256Sum(v CanonicalValue) [32]byte {
	return sha256.Sum256([]byte(Serialize(v)))
}

// Base64Hash is the 44-character base64 representation of SHA-256(v), used
// for unit hashes, ball hashes and the payload hash embedded in stripped
// units (§6 "Hashes are 44-character base64 of SHA-256 digests").
func Base64Hash(v CanonicalValue) string {
	sum := Sha256Sum(v)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsValidHash reports whether s has the shape of a base64 SHA-256 digest.
func IsValidHash(s string) bool {
	if len(s) != 44 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// BallHash computes the base64 SHA-256 of
// {unit, parent_balls?, skiplist_balls?, is_nonserial?} with empty/false
// fields omitted entirely from the object (§6, object_hash.rs calc_ball_hash).
func BallHash(unit string, parentBalls, skiplistBalls []string, isNonserial bool) string {
	obj := CanonicalObject{"unit": CString(unit)}
	if len(parentBalls) > 0 {
		arr := make(CArray, len(parentBalls))
		for i, b := range parentBalls {
			arr[i] = CString(b)
		}
		obj["parent_balls"] = arr
	}
	if len(skiplistBalls) > 0 {
		arr := make(CArray, len(skiplistBalls))
		for i, b := range skiplistBalls {
			arr[i] = CString(b)
		}
		obj["skiplist_balls"] = arr
	}
	if isNonserial {
		obj["is_nonserial"] = CBool(true)
	}
	return Base64Hash(obj)
}
