package document

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

// typeRank orders values of different types the way MongoDB sorts them:
// null < numbers < strings < documents < arrays < binary < ObjectID <
// booleans < timestamps.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case *Document:
		return 4
	case []interface{}:
		return 5
	case []byte:
		return 6
	case ObjectID:
		return 7
	case bool:
		return 8
	case time.Time:
		return 9
	default:
		return 10
	}
}

// Compare compares two normalized values.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}

	switch va := a.(type) {
	case nil:
		return 0
	case int64:
		if vb, ok := b.(int64); ok {
			return compareInts64(va, vb)
		}
		return compareIntFloat(va, b.(float64))
	case float64:
		if vb, ok := b.(int64); ok {
			return -compareIntFloat(vb, va)
		}
		return compareFloats(va, b.(float64))
	case string:
		return strings.Compare(va, b.(string))
	case *Document:
		return compareDocuments(va, b.(*Document))
	case []interface{}:
		return compareArrays(va, b.([]interface{}))
	case []byte:
		return bytes.Compare(va, b.([]byte))
	case ObjectID:
		vb := b.(ObjectID)
		return bytes.Compare(va[:], vb[:])
	case bool:
		vb := b.(bool)
		if va == vb {
			return 0
		}
		if !va {
			return -1
		}
		return 1
	case time.Time:
		vb := b.(time.Time)
		if va.Before(vb) {
			return -1
		}
		if va.After(vb) {
			return 1
		}
		return 0
	}
	return 0
}

// Equal reports whether two values are equal. Numbers compare by value
// across int64 and float64.
func Equal(a, b interface{}) bool {
	return Compare(Normalize(a), Normalize(b)) == 0
}

func compareDocuments(a, b *Document) int {
	ka, kb := a.Keys(), b.Keys()
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		va, _ := a.Get(ka[i])
		vb, _ := b.Get(kb[i])
		if c := Compare(va, vb); c != 0 {
			return c
		}
	}
	return compareInts(len(ka), len(kb))
}

func compareArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInts64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareFloats orders NaN below every other number and equal to itself
func compareFloats(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareIntFloat compares an int64 with a float64 without rounding the
// integer through float64
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= two63:
		return -1
	case f < -two63:
		return 1
	}
	whole := math.Floor(f)
	if c := compareInts64(i, int64(whole)); c != 0 {
		return c
	}
	if f > whole {
		return -1
	}
	return 0
}

// two63 is 2^63, the first float64 above every int64
const two63 = float64(1 << 63)

// IsNumber reports whether a normalized value is numeric
func IsNumber(v interface{}) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// ToFloat64 converts a numeric value to float64
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case float32:
		return float64(val), true
	default:
		return 0, false
	}
}

// ToInt64 converts an integral numeric value to int64
func ToInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	default:
		return 0, false
	}
}

// CanonicalKey encodes values into a string such that two value tuples
// produce the same key exactly when they are Equal element by element.
// Indexes use it as their hash key.
func CanonicalKey(values ...interface{}) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte('|')
		}
		writeCanonical(&sb, Normalize(v))
	}
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("n")
	case int64:
		sb.WriteString("d:")
		sb.WriteString(strconv.FormatInt(val, 10))
	case float64:
		sb.WriteString("d:")
		switch {
		case math.IsNaN(val):
			sb.WriteString("NaN")
		case val == math.Trunc(val) && val >= -two63 && val < two63:
			// Whole floats share the integer form; -0 becomes 0
			sb.WriteString(strconv.FormatInt(int64(val), 10))
		default:
			sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case string:
		sb.WriteString("s:")
		sb.WriteString(strconv.Quote(val))
	case bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(val))
	case time.Time:
		sb.WriteString("t:")
		sb.WriteString(strconv.FormatInt(val.UnixNano(), 10))
	case ObjectID:
		sb.WriteString("o:")
		sb.WriteString(val.Hex())
	case []byte:
		sb.WriteString("x:")
		sb.WriteString(hex.EncodeToString(val))
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	case *Document:
		sb.WriteByte('{')
		for i, k := range val.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			item, _ := val.Get(k)
			writeCanonical(sb, item)
		}
		sb.WriteByte('}')
	}
}
