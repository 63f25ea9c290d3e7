package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

type validator interface {
	validate() []Issue
}

// nullable marks packets whose payload is null.
type nullable interface {
	nullPayload()
}

var envelopeKeys = map[string]bool{"id": true, "data": true, "sentAt": true}

// decode validates the envelope, switches on the tag and only then decodes
// the payload into the shape registered for that tag.
func decode[T interface{ Tag() Tag }](raw []byte, table map[Tag]func() T) (T, *float64, error) {
	var zero T

	if len(raw) > MaxFrameSize {
		return zero, nil, invalid(Issue{Message: fmt.Sprintf("Packet size %d exceeds maximum %d bytes", len(raw), MaxFrameSize)})
	}
	if !gjson.ValidBytes(raw) {
		return zero, nil, invalid(Issue{Message: "Invalid JSON"})
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return zero, nil, invalid(Issue{Message: "Expected object, received " + kindOf(root)})
	}

	issues := unknownKeys("", root, envelopeKeys)

	var sentAt *float64
	if s := root.Get("sentAt"); s.Exists() {
		if s.Type != gjson.Number {
			issues = append(issues, Issue{Path: "sentAt", Message: "Expected number, received " + kindOf(s)})
		} else {
			v := s.Float()
			sentAt = &v
		}
	}

	id := root.Get("id")
	var newPacket func() T
	switch {
	case !id.Exists():
		issues = append(issues, Issue{Path: "id", Message: "Required"})
	case id.Type != gjson.String:
		issues = append(issues, Issue{Path: "id", Message: "Expected string, received " + kindOf(id)})
	default:
		var ok bool
		if newPacket, ok = table[Tag(id.Str)]; !ok {
			issues = append(issues, Issue{
				Path:    "id",
				Message: "Invalid discriminator value. Expected " + expectedTags(table),
			})
		}
	}
	if newPacket == nil {
		return zero, nil, invalid(issues...)
	}

	p := newPacket()
	data := root.Get("data")
	if _, ok := any(p).(nullable); ok {
		if data.Exists() && data.Type != gjson.Null {
			issues = append(issues, Issue{Path: "data", Message: "Expected null, received " + kindOf(data)})
		}
	} else {
		switch {
		case !data.Exists():
			issues = append(issues, Issue{Path: "data", Message: "Required"})
		case !data.IsObject():
			issues = append(issues, Issue{Path: "data", Message: "Expected object, received " + kindOf(data)})
		default:
			issues = append(issues, decodePayload(data, p)...)
		}
	}

	if err := invalid(issues...); err != nil {
		return zero, nil, err
	}
	return p, sentAt, nil
}

// decodePayload decodes an object payload into p and runs its validation.
func decodePayload(data gjson.Result, p any) []Issue {
	if issues := unknownKeys("data", data, jsonFieldNames(p)); len(issues) > 0 {
		return issues
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data.Raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return prefixed("data", []Issue{issueFromJSON(err)})
	}

	if v, ok := p.(validator); ok {
		return prefixed("data", v.validate())
	}
	return nil
}

func unknownKeys(path string, obj gjson.Result, allowed map[string]bool) []Issue {
	var issues []Issue
	obj.ForEach(func(key, _ gjson.Result) bool {
		if !allowed[key.String()] {
			issues = append(issues, Issue{
				Path:    path,
				Message: fmt.Sprintf("Unrecognized key(s) in object: '%s'", key.String()),
			})
		}
		return true
	})
	return issues
}

// jsonFieldNames returns the exact JSON keys a payload struct accepts.
func jsonFieldNames(p any) map[string]bool {
	names := make(map[string]bool)
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		names[name] = true
	}
	return names
}

func issueFromJSON(err error) Issue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Issue{
			Path:    typeErr.Field,
			Message: fmt.Sprintf("Expected %s, received %s", kindOfType(typeErr.Type), typeErr.Value),
		}
	}
	return Issue{Message: err.Error()}
}

func expectedTags[T any](table map[Tag]func() T) string {
	tags := make([]string, 0, len(table))
	for tag := range table {
		tags = append(tags, "'"+string(tag)+"'")
	}
	sort.Strings(tags)
	return strings.Join(tags, " | ")
}

func kindOf(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	case gjson.JSON:
		if r.IsArray() {
			return "array"
		}
		return "object"
	}
	return "undefined"
}

func kindOfType(t reflect.Type) string {
	if t == nil {
		return "unknown"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct, reflect.Pointer:
		return "object"
	}
	return t.Kind().String()
}
