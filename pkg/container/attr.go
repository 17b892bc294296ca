package container

import (
	"fmt"
	"math"
)

// Attr is a named scalar attribute attached to a group, field or link.
//
// Attributes are small and always materialized eagerly: structural discovery
// loads them together with the entry metadata, unlike field payloads which
// stay on disk until first access. Numeric values are stored little-endian
// like payloads; string values are raw UTF-8 bytes.
type Attr struct {
	// Name is the attribute name, unique per node
	Name string `json:"name"`

	// Dtype is the value type (scalar numeric or string)
	Dtype Dtype `json:"dtype"`

	// Data is the encoded value
	Data []byte `json:"data"`
}

// StringAttr creates a string attribute.
func StringAttr(name, value string) Attr {
	return Attr{Name: name, Dtype: DtypeString, Data: []byte(value)}
}

// IntAttr creates an int64 attribute.
func IntAttr(name string, value int64) Attr {
	data := make([]byte, 8)
	ByteOrder.PutUint64(data, uint64(value))
	return Attr{Name: name, Dtype: DtypeInt64, Data: data}
}

// FloatAttr creates a float64 attribute.
func FloatAttr(name string, value float64) Attr {
	data := make([]byte, 8)
	ByteOrder.PutUint64(data, math.Float64bits(value))
	return Attr{Name: name, Dtype: DtypeFloat64, Data: data}
}

// AsString returns the attribute value as a string. Numeric attributes are
// formatted with their canonical Go representation.
func (a Attr) AsString() string {
	switch a.Dtype {
	case DtypeString:
		return string(a.Data)
	case DtypeFloat32, DtypeFloat64:
		f, _ := a.AsFloat()
		return fmt.Sprintf("%g", f)
	default:
		i, _ := a.AsInt()
		return fmt.Sprintf("%d", i)
	}
}

// AsInt returns the attribute value as an int64.
func (a Attr) AsInt() (int64, error) {
	switch a.Dtype {
	case DtypeInt8:
		return int64(int8(a.Data[0])), nil
	case DtypeUint8:
		return int64(a.Data[0]), nil
	case DtypeInt16:
		return int64(int16(ByteOrder.Uint16(a.Data))), nil
	case DtypeUint16:
		return int64(ByteOrder.Uint16(a.Data)), nil
	case DtypeInt32:
		return int64(int32(ByteOrder.Uint32(a.Data))), nil
	case DtypeUint32:
		return int64(ByteOrder.Uint32(a.Data)), nil
	case DtypeInt64, DtypeUint64:
		return int64(ByteOrder.Uint64(a.Data)), nil
	default:
		return 0, NewError(ErrInvalidArgument,
			fmt.Sprintf("attribute %q is not an integer", a.Name), "")
	}
}

// AsFloat returns the attribute value as a float64.
func (a Attr) AsFloat() (float64, error) {
	switch a.Dtype {
	case DtypeFloat32:
		return float64(math.Float32frombits(ByteOrder.Uint32(a.Data))), nil
	case DtypeFloat64:
		return math.Float64frombits(ByteOrder.Uint64(a.Data)), nil
	default:
		i, err := a.AsInt()
		if err != nil {
			return 0, NewError(ErrInvalidArgument,
				fmt.Sprintf("attribute %q is not numeric", a.Name), "")
		}
		return float64(i), nil
	}
}

// FindAttr returns the attribute with the given name from a list, preserving
// the "missing" case as ok=false rather than a zero Attr.
func FindAttr(attrs []Attr, name string) (Attr, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}
