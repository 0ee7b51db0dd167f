package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mnohosten/streamhub/pkg/document"
)

// ErrValidation is wrapped by every ValidationError
var ErrValidation = errors.New("validation failed")

// FieldError is one failed rule
type FieldError struct {
	// Field is the dotted path of the field, e.g. contents[0].title
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (fe FieldError) String() string {
	if fe.Param != "" {
		return fmt.Sprintf("%s: %s=%s", fe.Field, fe.Rule, fe.Param)
	}
	return fmt.Sprintf("%s: %s", fe.Field, fe.Rule)
}

// ValidationError lists every rule a document breaks
type ValidationError struct {
	Collection string
	Fields     []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		parts[i] = fe.String()
	}
	return fmt.Sprintf("invalid %s document: %s", e.Collection, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("bson"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterStructValidation(playlistConsistency, Playlist{})
	return v
}

// playlistConsistency checks total_contents against the contents array
func playlistConsistency(sl validator.StructLevel) {
	p := sl.Current().Interface().(Playlist)
	if p.TotalContents != int64(len(p.Contents)) {
		sl.ReportError(p.TotalContents, "total_contents", "TotalContents", "eq_len_contents", fmt.Sprint(len(p.Contents)))
	}
}

// newModel returns a pointer to an empty model for collection
func newModel(collection string) (interface{}, bool) {
	switch collection {
	case UsersCollection:
		return &User{}, true
	case ContentCollection:
		return &MediaContent{}, true
	case RatingsCollection:
		return &Rating{}, true
	case PlaylistsCollection:
		return &Playlist{}, true
	case InteractionsCollection:
		return &Interaction{}, true
	default:
		return nil, false
	}
}

// Decode converts a stored document into the collection's model
func Decode(collection string, doc *document.Document) (interface{}, error) {
	model, ok := newModel(collection)
	if !ok {
		return nil, fmt.Errorf("no model for collection %s", collection)
	}
	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	if err := bson.Unmarshal(data, model); err != nil {
		return nil, &ValidationError{
			Collection: collection,
			Fields:     []FieldError{{Field: "$", Rule: "type", Param: err.Error()}},
		}
	}
	return model, nil
}

// Validate checks a document against its collection's model. The store
// accepts any document; this is the application-level check. Collections
// without a model always pass.
func Validate(collection string, doc *document.Document) error {
	if _, ok := newModel(collection); !ok {
		return nil
	}
	model, err := Decode(collection, doc)
	if err != nil {
		return err
	}
	return validateModel(collection, model)
}

// ValidateModel checks a typed model
func ValidateModel(model interface{}) error {
	return validateModel(collectionOf(model), model)
}

func validateModel(collection string, model interface{}) error {
	err := validate.Struct(model)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &ValidationError{Collection: collection}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{
			Field: fieldPath(fe.Namespace()),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return ve
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func collectionOf(model interface{}) string {
	switch model.(type) {
	case *User, User:
		return UsersCollection
	case *MediaContent, MediaContent:
		return ContentCollection
	case *Rating, Rating:
		return RatingsCollection
	case *Playlist, Playlist:
		return PlaylistsCollection
	case *Interaction, Interaction:
		return InteractionsCollection
	default:
		return fmt.Sprintf("%T", model)
	}
}
