package document

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID is the 12-byte store-assigned document identifier
// ([4-byte timestamp][5-byte process unique][3-byte counter]).
type ObjectID = primitive.ObjectID

// NewObjectID generates a new ObjectID
func NewObjectID() ObjectID {
	return primitive.NewObjectID()
}

// ObjectIDFromHex creates an ObjectID from a hex string
func ObjectIDFromHex(s string) (ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return id, fmt.Errorf("invalid ObjectID hex string %q: %w", s, err)
	}
	return id, nil
}
