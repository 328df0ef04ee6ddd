package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNoExposedFields is reported for struct descriptors that keep nothing.
var ErrNoExposedFields = errors.New("projection type has no exposed fields")

// StructDescriptor projects items onto the exposed fields of a struct type.
//
// A field is kept when it carries an `expose` tag: `expose:"name"` renames
// it on the wire, `expose:""` keeps the Go field name, and
// `expose:"name,omitempty"` drops zero values. Untagged fields are
// excluded even when the source item carries them.
type StructDescriptor struct {
	typ   reflect.Type
	shape reflect.Type
	err   error
}

// Struct builds a descriptor from T. Errors are reported by Engine.Validate
// and by every Project call.
func Struct[T any]() *StructDescriptor {
	return structOf(reflect.TypeFor[T]())
}

func structOf(t reflect.Type) *StructDescriptor {
	d := &StructDescriptor{typ: t}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		d.err = fmt.Errorf("projection %s: not a struct", d.Name())
		return d
	}

	var fields []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("expose")
		if !ok || !f.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		jsonTag := name
		if opts == "omitempty" {
			jsonTag += ",omitempty"
		}

		fields = append(fields, reflect.StructField{
			Name: f.Name,
			Type: f.Type,
			Tag:  reflect.StructTag(fmt.Sprintf(`json:%q`, jsonTag)),
		})
	}

	if len(fields) == 0 {
		d.err = fmt.Errorf("projection %s: %w", d.Name(), ErrNoExposedFields)
		return d
	}

	d.shape = reflect.StructOf(fields)
	return d
}

// Name identifies the projection type.
func (d *StructDescriptor) Name() string {
	return "struct:" + d.typ.String()
}

func (d *StructDescriptor) apply(item any) (any, error) {
	if d.err != nil {
		return nil, d.err
	}

	data, err := toJSON(item)
	if err != nil {
		return nil, fmt.Errorf("projection %s: marshal item: %w", d.Name(), err)
	}

	out := reflect.New(d.shape)
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return nil, fmt.Errorf("projection %s: %w", d.Name(), err)
	}
	return out.Interface(), nil
}
