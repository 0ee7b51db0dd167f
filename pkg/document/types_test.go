package document

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ      Type
		expected string
	}{
		{TypeNull, "null"},
		{TypeBoolean, "boolean"},
		{TypeInt64, "int64"},
		{TypeFloat64, "float64"},
		{TypeString, "string"},
		{TypeBinary, "binary"},
		{TypeObjectID, "objectid"},
		{TypeArray, "array"},
		{TypeDocument, "document"},
		{TypeTimestamp, "timestamp"},
		{Type(0xFF), "unknown"},
	}

	for _, tt := range tests {
		if result := tt.typ.String(); result != tt.expected {
			t.Errorf("Type(%d).String() = %s, expected %s", tt.typ, result, tt.expected)
		}
	}
}

func TestNewValue(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected Type
	}{
		{"nil", nil, TypeNull},
		{"boolean", true, TypeBoolean},
		{"int32", int32(42), TypeInt64},
		{"int", 42, TypeInt64},
		{"float32", float32(1.5), TypeFloat64},
		{"float64", 3.14, TypeFloat64},
		{"string", "hello", TypeString},
		{"binary", []byte{0x01, 0x02}, TypeBinary},
		{"objectid", NewObjectID(), TypeObjectID},
		{"timestamp", time.Now(), TypeTimestamp},
		{"bson datetime", primitive.NewDateTimeFromTime(time.Now()), TypeTimestamp},
		{"array", []interface{}{1, 2, 3}, TypeArray},
		{"bson array", bson.A{"a", "b"}, TypeArray},
		{"string slice", []string{"Drama", "Action"}, TypeArray},
		{"map", map[string]interface{}{"key": "value"}, TypeDocument},
		{"bson.D", bson.D{{Key: "k", Value: 1}}, TypeDocument},
		{"document pointer", NewDocument(), TypeDocument},
		{"unknown type", struct{}{}, TypeNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValue(tt.input)
			if v.Type != tt.expected {
				t.Errorf("NewValue(%v) Type = %s, expected %s", tt.input, v.Type, tt.expected)
			}
		})
	}
}

func TestNormalizeNested(t *testing.T) {
	v := Normalize(map[string]interface{}{
		"seasons": []interface{}{int32(1), map[string]interface{}{"episode_number": 2}},
	})

	doc, ok := v.(*Document)
	if !ok {
		t.Fatalf("Expected *Document, got %T", v)
	}
	seasons, _ := doc.Get("seasons")
	arr := seasons.([]interface{})
	if _, ok := arr[0].(int64); !ok {
		t.Errorf("Expected int32 element to become int64, got %T", arr[0])
	}
	if _, ok := arr[1].(*Document); !ok {
		t.Errorf("Expected nested map to become *Document, got %T", arr[1])
	}
}
