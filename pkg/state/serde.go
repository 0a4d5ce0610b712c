package state

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// TypeTagKey marks a serialized mapping as the product of a registered
// serializer. The value under this key is the tag the value was registered
// with; the remaining entries are the serializer's fields.
const TypeTagKey = "__stately_type__"

// SerializerFunc converts a value into a plain field mapping. The registry
// adds the type tag itself.
type SerializerFunc func(value any) (map[string]any, error)

// DeserializerFunc reconstructs a value from the field mapping produced by
// the matching SerializerFunc.
type DeserializerFunc func(fields map[string]any) (any, error)

type serdeEntry struct {
	tag         string
	serialize   SerializerFunc
	deserialize DeserializerFunc
}

var (
	serdeMu     sync.RWMutex
	serdeByType = map[reflect.Type]*serdeEntry{}
	serdeByTag  = map[string]*serdeEntry{}
)

// RegisterSerde binds a type tag to a serializer/deserializer pair for the
// runtime type of prototype. Registering the same tag or type twice replaces
// the previous entry.
func RegisterSerde(tag string, prototype any, ser SerializerFunc, de DeserializerFunc) {
	entry := &serdeEntry{tag: tag, serialize: ser, deserialize: de}
	serdeMu.Lock()
	defer serdeMu.Unlock()
	serdeByType[reflect.TypeOf(prototype)] = entry
	serdeByTag[tag] = entry
}

// RegisterStruct derives a serde pair for T from its exported fields using
// mapstructure. T must be a struct type.
func RegisterStruct[T any](tag string) {
	var zero T
	RegisterSerde(tag, zero,
		func(value any) (map[string]any, error) {
			fields := map[string]any{}
			if err := mapstructure.Decode(value, &fields); err != nil {
				return nil, fmt.Errorf("serde: encoding %T: %w", value, err)
			}
			return fields, nil
		},
		func(fields map[string]any) (any, error) {
			var out T
			if err := mapstructure.Decode(fields, &out); err != nil {
				return nil, fmt.Errorf("serde: decoding tag %q: %w", tag, err)
			}
			return out, nil
		},
	)
}

// SerializeValue converts a single value into a JSON-safe representation.
// Primitive values pass through unchanged; slices and maps recurse;
// registered types produce a tagged mapping.
func SerializeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	serdeMu.RLock()
	entry, ok := serdeByType[reflect.TypeOf(value)]
	serdeMu.RUnlock()
	if ok {
		fields, err := entry.serialize(value)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		out[TypeTagKey] = entry.tag
		return out, nil
	}

	switch v := value.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			s, err := SerializeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			s, err := SerializeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serde: no serializer registered for type %T", value)
	}
}

// DeserializeValue is the inverse of SerializeValue.
func DeserializeValue(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			d, err := DeserializeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case map[string]any:
		if rawTag, ok := v[TypeTagKey]; ok {
			tag, ok := rawTag.(string)
			if !ok {
				return nil, fmt.Errorf("serde: type tag is %T, want string", rawTag)
			}
			serdeMu.RLock()
			entry, ok := serdeByTag[tag]
			serdeMu.RUnlock()
			if !ok {
				return nil, fmt.Errorf("serde: no deserializer registered for tag %q", tag)
			}
			fields := make(map[string]any, len(v)-1)
			for k, item := range v {
				if k == TypeTagKey {
					continue
				}
				fields[k] = item
			}
			return entry.deserialize(fields)
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			d, err := DeserializeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	default:
		return value, nil
	}
}

// Serialize converts the State into a JSON-safe mapping via the serde
// registry.
func (s State) Serialize() (map[string]any, error) {
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		sv, err := SerializeValue(v)
		if err != nil {
			return nil, fmt.Errorf("serde: key %q: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

// Deserialize reconstructs a State from a mapping produced by Serialize.
func Deserialize(data map[string]any) (State, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		dv, err := DeserializeValue(v)
		if err != nil {
			return State{}, fmt.Errorf("serde: key %q: %w", k, err)
		}
		out[k] = dv
	}
	return State{data: out}, nil
}
