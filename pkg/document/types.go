package document

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Type represents the BSON data type of a value
type Type byte

const (
	TypeFloat64   Type = 0x01
	TypeString    Type = 0x02
	TypeDocument  Type = 0x03
	TypeArray     Type = 0x04
	TypeBinary    Type = 0x05
	TypeObjectID  Type = 0x07
	TypeBoolean   Type = 0x08
	TypeTimestamp Type = 0x09
	TypeNull      Type = 0x0A
	TypeInt64     Type = 0x12
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeObjectID:
		return "objectid"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "document"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value represents a typed value in a document
type Value struct {
	Type Type
	Data interface{}
}

// NewValue creates a new typed value. The data is normalized first, so
// every integer kind becomes int64, maps and bson documents become
// *Document and slices become []interface{}.
func NewValue(data interface{}) *Value {
	v := &Value{Data: Normalize(data)}
	v.Type = TypeOf(v.Data)
	if v.Type == TypeNull {
		v.Data = nil
	}
	return v
}

// TypeOf reports the type of an already normalized value
func TypeOf(data interface{}) Type {
	switch data.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int64:
		return TypeInt64
	case float64:
		return TypeFloat64
	case string:
		return TypeString
	case []byte:
		return TypeBinary
	case ObjectID:
		return TypeObjectID
	case time.Time:
		return TypeTimestamp
	case []interface{}:
		return TypeArray
	case *Document:
		return TypeDocument
	default:
		return TypeNull
	}
}

// Normalize converts a Go or bson value into the canonical in-memory
// representation used by documents. Unsupported types normalize to nil.
func Normalize(data interface{}) interface{} {
	switch v := data.(type) {
	case nil:
		return nil
	case bool, int64, float64, string, ObjectID:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case []byte:
		clone := make([]byte, len(v))
		copy(clone, v)
		return clone
	case primitive.Binary:
		return Normalize(v.Data)
	case time.Time:
		return v.UTC()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Null, primitive.Undefined:
		return nil
	case *Document:
		if v == nil {
			return nil
		}
		return v
	case Document:
		return &v
	case map[string]interface{}:
		return NewDocumentFromMap(v)
	case bson.M:
		return NewDocumentFromMap(v)
	case bson.D:
		return FromBSON(v)
	case bson.A:
		return normalizeSlice(v)
	case []interface{}:
		return normalizeSlice(v)
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []int:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out
	case []int64:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []*Document:
		out := make([]interface{}, len(v))
		for i, d := range v {
			out[i] = d
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, m := range v {
			out[i] = NewDocumentFromMap(m)
		}
		return out
	default:
		return nil
	}
}

func normalizeSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, item := range in {
		out[i] = Normalize(item)
	}
	return out
}
