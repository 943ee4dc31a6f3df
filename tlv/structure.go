package tlv

import (
	"fmt"

	"github.com/pkg/errors"
)

// StructureError means a composite structure is well formed on the wire but
// does not have the shape its decoder requires: either a mandatory child is
// missing or a child has an unknown type and is marked critical. Callers use
// this to tell a missing piece apart from corrupt bytes.
type StructureError struct {
	Structure string // name of the structure being decoded
	Type      uint16 // offending or missing child type
	Missing   bool   // true if the child is missing, false if unsupported
}

func (e *StructureError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s: mandatory element 0x%x missing", e.Structure, e.Type)
	}
	return fmt.Sprintf("%s: unknown critical element 0x%x", e.Structure, e.Type)
}

// IsStructural is true if err, or any error it wraps, is a *StructureError.
func IsStructural(err error) bool {
	var se *StructureError
	return errors.As(err, &se)
}

// A ChildFunc handles one child element while a composite is walked. It
// returns false if the child's type is not one it knows.
type ChildFunc func(child *Element) (known bool, err error)

// Walk feeds each element of children to handle, in order. Unknown
// non-critical children are skipped. An unknown critical child stops the
// walk with a *StructureError. After all children are handled, each type in
// mandatory must have been seen at least once.
func Walk(structure string, children []*Element, handle ChildFunc, mandatory ...uint16) error {
	seen := make(map[uint16]bool)
	for _, c := range children {
		known, err := handle(c)
		if err != nil {
			return errors.Wrapf(err, "%s: element 0x%x", structure, c.Type)
		}
		if !known {
			if c.Critical() {
				return &StructureError{Structure: structure, Type: c.Type}
			}
			continue
		}
		seen[c.Type] = true
	}
	for _, t := range mandatory {
		if !seen[t] {
			return &StructureError{Structure: structure, Type: t, Missing: true}
		}
	}
	return nil
}

// WalkComposite decodes the children of e and walks them.
func WalkComposite(structure string, e *Element, handle ChildFunc, mandatory ...uint16) error {
	children, err := e.Children()
	if err != nil {
		return errors.Wrap(err, structure)
	}
	return Walk(structure, children, handle, mandatory...)
}
