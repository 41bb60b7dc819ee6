package compiler

import (
	"fmt"
	"strings"
)

// Kind is the shape of a TriC type.
type Kind int

const (
	KindByte Kind = iota
	KindInt
	KindLong
	KindPointer
	KindStruct
)

// Type is a resolved TriC type. Primitive types are shared singletons, so
// they compare with ==; use Same for structural equality.
type Type struct {
	Kind   Kind
	Elem   *Type      // pointee, for KindPointer
	Struct *StructDef // for KindStruct
}

var (
	ByteType = &Type{Kind: KindByte}
	IntType  = &Type{Kind: KindInt}
	LongType = &Type{Kind: KindLong}
)

// PointerTo returns the type T*.
func PointerTo(t *Type) *Type { return &Type{Kind: KindPointer, Elem: t} }

// Size in bytes. Pointers are always 8 bytes; structs are packed.
func (t *Type) Size() int {
	switch t.Kind {
	case KindByte:
		return 1
	case KindInt:
		return 4
	case KindStruct:
		return t.Struct.Size
	}
	return 8
}

// Bits is the width a scalar is sign-extended from.
func (t *Type) Bits() int { return 8 * t.Size() }

// Align is the natural alignment used for frame and global slots.
func (t *Type) Align() int {
	if t.Kind == KindStruct {
		return 8
	}
	return t.Size()
}

func (t *Type) IsPointer() bool { return t.Kind == KindPointer }
func (t *Type) IsStruct() bool  { return t.Kind == KindStruct }

// IsScalar reports whether values of t fit in a register.
func (t *Type) IsScalar() bool { return t.Kind != KindStruct }

// Same reports structural equality.
func (t *Type) Same(o *Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindPointer:
		return t.Elem.Same(o.Elem)
	case KindStruct:
		return t.Struct == o.Struct
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case KindByte:
		return "byte"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindPointer:
		return t.Elem.String() + "*"
	case KindStruct:
		return t.Struct.Name
	}
	return "?"
}

// Field is one member of a struct.
type Field struct {
	Name   string
	Type   *Type
	Offset int
}

// StructDef describes a struct. A struct is incomplete from the moment its
// name is seen until its field list has been parsed; fields never change
// after that.
type StructDef struct {
	Name     string
	Fields   []Field
	Size     int
	Complete bool
}

// Field looks up a member by name.
func (s *StructDef) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// addField appends a packed field.
func (s *StructDef) addField(name string, t *Type) error {
	if s.Complete {
		return fmt.Errorf("struct %s is already defined", s.Name)
	}
	if _, dup := s.Field(name); dup {
		return fmt.Errorf("duplicate field %s in struct %s", name, s.Name)
	}
	s.Fields = append(s.Fields, Field{Name: name, Type: t, Offset: s.Size})
	s.Size += t.Size()
	return nil
}

func (s *StructDef) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = fmt.Sprintf("%s: %s @%d", f.Name, f.Type, f.Offset)
	}
	return fmt.Sprintf("struct %s { %s } size=%d", s.Name, strings.Join(parts, "; "), s.Size)
}
