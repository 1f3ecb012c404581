package tlv

import (
	"fmt"
	"strings"

	"github.com/gregLibert/cardkit/pkg/cardkiterr"
)

// Policy controls how a child Schema is matched against a constructed
// node's actual children during decoding.
type Policy int

const (
	// Required child must be present at its position; its absence fails decode.
	Required Policy = iota
	// Optional child may be absent; absence is silently skipped.
	Optional
	// Repeating consumes every consecutive matching child into a list.
	Repeating
)

// PrimitiveDecoder turns a primitive node's raw value bytes into a typed
// Go value (string, integer, []byte, or anything the caller needs).
type PrimitiveDecoder func([]byte) (interface{}, error)

// Schema declaratively describes how to decode one TLV node. A Schema is
// either primitive (Decode set) or constructed (Children set); exactly one
// of the two should be populated. TagMatch, when non-nil, requires the
// candidate node's class/constructed-flag/number to match; a nil TagMatch
// means the child is matched purely by position.
type Schema struct {
	Key      string
	TagMatch *Tag
	Policy   Policy
	Children []Schema
	Decode   PrimitiveDecoder
}

// DecodeError reports a schema decode failure together with the path of
// parent keys leading to the offending node, for diagnostics.
type DecodeError struct {
	Err  *cardkiterr.Error
	Path []string
}

func (e *DecodeError) Error() string {
	if len(e.Path) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s at %s", e.Err.Error(), strings.Join(e.Path, "."))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(path []string, format string, args ...interface{}) error {
	return &DecodeError{
		Err:  cardkiterr.New(cardkiterr.ProtocolError, fmt.Sprintf(format, args...)),
		Path: append([]string(nil), path...),
	}
}

func matches(n Node, s Schema) bool {
	if s.TagMatch == nil {
		return true
	}
	t := *s.TagMatch
	return n.Tag.Class == t.Class && n.Tag.Constructed == t.Constructed && n.Tag.Number == t.Number
}

// Decode applies schema to root and produces a nested value tree: string
// keys mapped to decoded primitive values, []interface{} for repeating
// children, or nested map[string]interface{} for constructed children.
func Decode(root Node, schema Schema) (interface{}, error) {
	return decodeNode(root, schema, []string{schema.Key})
}

func decodeNode(n Node, s Schema, path []string) (interface{}, error) {
	if s.Decode != nil {
		if n.Tag.Constructed {
			return nil, decodeErr(path, "schema %q expects a primitive node", s.Key)
		}
		v, err := s.Decode(n.Value)
		if err != nil {
			return nil, decodeErr(path, "decoder for %q failed: %v", s.Key, err)
		}
		return v, nil
	}

	if !n.Tag.Constructed {
		return nil, decodeErr(path, "schema %q expects a constructed node", s.Key)
	}
	return decodeChildren(n.Children, s.Children, path)
}

func decodeChildren(children []Node, schemas []Schema, path []string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(schemas))
	idx := 0

	for _, cs := range schemas {
		childPath := append(append([]string(nil), path...), cs.Key)

		switch cs.Policy {
		case Required:
			if idx >= len(children) || !matches(children[idx], cs) {
				return nil, decodeErr(childPath, "required child %q missing or out of order", cs.Key)
			}
			v, err := decodeNode(children[idx], cs, childPath)
			if err != nil {
				return nil, err
			}
			result[cs.Key] = v
			idx++

		case Optional:
			if idx < len(children) && matches(children[idx], cs) {
				v, err := decodeNode(children[idx], cs, childPath)
				if err != nil {
					return nil, err
				}
				result[cs.Key] = v
				idx++
			}

		case Repeating:
			var list []interface{}
			for idx < len(children) && matches(children[idx], cs) {
				v, err := decodeNode(children[idx], cs, childPath)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
				idx++
			}
			result[cs.Key] = list

		default:
			return nil, decodeErr(childPath, "unknown selection policy for %q", cs.Key)
		}
	}

	return result, nil
}
