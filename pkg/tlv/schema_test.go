package tlv

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func codeSchema() Schema {
	t := Tag{Class: ContextSpecific, Constructed: false, Number: 1}
	return Schema{
		Key:      "code",
		TagMatch: &t,
		Policy:   Required,
		Decode: func(b []byte) (interface{}, error) {
			return string(b), nil
		},
	}
}

func seqSchema() Schema {
	t := Tag{Class: ContextSpecific, Constructed: false, Number: 2}
	return Schema{
		Key:      "seq",
		TagMatch: &t,
		Policy:   Required,
		Decode: func(b []byte) (interface{}, error) {
			if len(b) != 2 {
				return nil, protoErr("seq must be 2 bytes")
			}
			return int(binary.BigEndian.Uint16(b)), nil
		},
	}
}

// TestSchemaS7 replays the spec's §8 S7 scenario: 30 08 81 02 4A 50 82 02 00 2A
// against {code:UTF-8, seq:big-endian-u16} -> {code:"JP", seq:42}.
func TestSchemaS7(t *testing.T) {
	root := append([]byte{0x30, 0x08}, mustHex("81024A50")...)
	root = append(root, mustHex("8202002A")...)

	node, _, err := DecodeOne(root)
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}

	schema := Schema{
		Key:      "root",
		Policy:   Required,
		Children: []Schema{codeSchema(), seqSchema()},
	}

	got, err := Decode(node, schema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := map[string]interface{}{
		"code": "JP",
		"seq":  42,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaOrderSensitivity(t *testing.T) {
	// Reordered children: seq before code. A strictly ordered schema that
	// requires code first must fail.
	reordered := append([]byte{0x30, 0x08}, mustHex("8202002A")...)
	reordered = append(reordered, mustHex("81024A50")...)

	node, _, err := DecodeOne(reordered)
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}

	schema := Schema{
		Key:      "root",
		Policy:   Required,
		Children: []Schema{codeSchema(), seqSchema()},
	}

	if _, err := Decode(node, schema); err == nil {
		t.Fatal("expected order-sensitive decode to fail on reordered children")
	}
}

func TestSchemaRepeatingCollectsInOrder(t *testing.T) {
	entryTag := Tag{Class: ContextSpecific, Constructed: false, Number: 5}
	raw := append([]byte{0x30, 0x09},
		mustHex("8501" + "01")...)
	raw = append(raw, mustHex("850102")...)
	raw = append(raw, mustHex("850103")...)

	node, _, err := DecodeOne(raw)
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}

	schema := Schema{
		Key:    "root",
		Policy: Required,
		Children: []Schema{
			{
				Key:      "entries",
				TagMatch: &entryTag,
				Policy:   Repeating,
				Decode: func(b []byte) (interface{}, error) {
					return int(b[0]), nil
				},
			},
		},
	}

	got, err := Decode(node, schema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := map[string]interface{}{
		"entries": []interface{}{1, 2, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaOptionalSkippedWhenAbsent(t *testing.T) {
	onlyCode := append([]byte{0x30, 0x04}, mustHex("81024A50")...)

	node, _, err := DecodeOne(onlyCode)
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}

	optionalSeq := seqSchema()
	optionalSeq.Policy = Optional

	schema := Schema{
		Key:      "root",
		Policy:   Required,
		Children: []Schema{codeSchema(), optionalSeq},
	}

	got, err := Decode(node, schema)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := map[string]interface{}{"code": "JP"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
