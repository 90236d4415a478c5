package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nwiizo/pgveil/wire"
)

func TestRowDescriptionRoundTrip(t *testing.T) {
	t.Parallel()
	want := &wire.RowDescription{
		Fields: []wire.FieldDescription{
			{Name: "id", TableOID: 16400, ColumnAttrNo: 1, TypeOID: 23, TypeLen: 4, TypeModifier: -1, FormatCode: 0},
			{Name: "email", TableOID: 16400, ColumnAttrNo: 2, TypeOID: 25, TypeLen: -1, TypeModifier: -1, FormatCode: 0},
		},
	}

	got := wire.Classify(wire.Frame{
		Tagged:  true,
		Tag:     wire.TagRowDescription,
		Payload: wire.EncodeRowDescription(want),
	}).RowDesc
	if got == nil {
		t.Fatal("classify did not produce a RowDescription")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDataRowRoundTripWithNull(t *testing.T) {
	t.Parallel()
	want := &wire.DataRow{
		Cells: []wire.Cell{
			{Data: []byte("alice")},
			{Null: true},
			{Data: []byte{}},
		},
	}

	msg := wire.Classify(wire.Frame{
		Tagged:  true,
		Tag:     wire.TagDataRow,
		Payload: wire.EncodeDataRow(want),
	})
	if msg.Row == nil {
		t.Fatal("classify did not produce a DataRow")
	}
	if diff := cmp.Diff(want, msg.Row); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyOpaqueForUnknownTag(t *testing.T) {
	t.Parallel()
	f := wire.Frame{Tagged: true, Tag: 'Z', Payload: []byte("whatever")}
	msg := wire.Classify(f)
	if msg.Raw == nil {
		t.Fatal("expected Raw message for unknown tag")
	}
	if msg.Raw.Frame.Tag != 'Z' {
		t.Fatalf("tag = %q, want 'Z'", msg.Raw.Frame.Tag)
	}
}

func TestClassifyOpaqueOnMalformedRowDescription(t *testing.T) {
	t.Parallel()
	// Field count says 5 fields but payload has none.
	f := wire.Frame{Tagged: true, Tag: wire.TagRowDescription, Payload: []byte{0, 5}}
	msg := wire.Classify(f)
	if msg.Raw == nil {
		t.Fatal("expected fallback to Raw on malformed RowDescription")
	}
}

func TestEncodeDataRowNullSentinel(t *testing.T) {
	t.Parallel()
	dr := &wire.DataRow{Cells: []wire.Cell{{Null: true}}}
	buf := wire.EncodeDataRow(dr)
	// 2 bytes count + 4 bytes length (-1) = 6 bytes total, no value bytes.
	if len(buf) != 6 {
		t.Fatalf("encoded length = %d, want 6", len(buf))
	}
	decoded := wire.Classify(wire.Frame{Tagged: true, Tag: wire.TagDataRow, Payload: buf}).Row
	if decoded == nil || !decoded.Cells[0].Null {
		t.Fatal("NULL cell did not round-trip")
	}
}
