package wire

import (
	"encoding/binary"
	"fmt"
)

// Tag bytes for the two message types this codec inspects structurally.
// All other tags pass through as Opaque.
const (
	TagRowDescription byte = 'T'
	TagDataRow        byte = 'D'
)

// FieldDescription describes one column of a result set. Every attribute
// is preserved verbatim across decode/re-encode.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	ColumnAttrNo int16
	TypeOID      uint32
	TypeLen      int16
	TypeModifier int32
	FormatCode   int16 // 0 = text, 1 = binary
}

// RowDescription carries no row data, only the column layout that
// subsequent DataRow messages on the connection conform to.
type RowDescription struct {
	Fields []FieldDescription
}

// Cell is one column value in a DataRow: either NULL (Null == true, in
// which case Data is always nil) or a byte slice of known length,
// possibly empty.
type Cell struct {
	Null bool
	Data []byte
}

// DataRow is an ordered sequence of cells matching the field count of the
// currently bound RowDescription.
type DataRow struct {
	Cells []Cell
}

// Opaque wraps a Frame whose tag is outside the inspection set, or whose
// payload failed to parse structurally. Classify never rejects these;
// they flow through as raw bytes.
type Opaque struct {
	Frame Frame
}

// Message is the decoded, typed view of one frame. Exactly one of
// RowDesc, Row, or Raw is non-nil.
type Message struct {
	RowDesc *RowDescription
	Row     *DataRow
	Raw     *Opaque
}

// Classify decodes a Frame into a typed Message. Only TagRowDescription
// and TagDataRow are parsed structurally; every other tag, and any frame
// whose structural decode fails, yields a Raw (Opaque) message so the
// pipeline can always fall back to verbatim pass-through.
func Classify(f Frame) Message {
	if !f.Tagged {
		return Message{Raw: &Opaque{Frame: f}}
	}
	switch f.Tag {
	case TagRowDescription:
		if rd, err := decodeRowDescription(f.Payload); err == nil {
			return Message{RowDesc: rd}
		}
	case TagDataRow:
		if dr, err := decodeDataRow(f.Payload); err == nil {
			return Message{Row: dr}
		}
	}
	return Message{Raw: &Opaque{Frame: f}}
}

// decodeRowDescription reads a 16-bit field count followed by that many
// fixed-layout field records:
//
//	name (C string) | table_oid (int32) | column_attno (int16) |
//	type_oid (int32) | type_len (int16) | type_modifier (int32) |
//	format_code (int16)
func decodeRowDescription(payload []byte) (*RowDescription, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("wire: row description: short payload")
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	off := 2
	fields := make([]FieldDescription, 0, count)
	for i := 0; i < count; i++ {
		name, n, err := readCString(payload, off)
		if err != nil {
			return nil, err
		}
		off = n
		if off+18 > len(payload) {
			return nil, fmt.Errorf("wire: row description: truncated field record")
		}
		fd := FieldDescription{
			Name:         name,
			TableOID:     binary.BigEndian.Uint32(payload[off : off+4]),
			ColumnAttrNo: int16(binary.BigEndian.Uint16(payload[off+4 : off+6])), //nolint:gosec // protocol-defined 16-bit field
			TypeOID:      binary.BigEndian.Uint32(payload[off+6 : off+10]),
			TypeLen:      int16(binary.BigEndian.Uint16(payload[off+10 : off+12])), //nolint:gosec // protocol-defined 16-bit field
			TypeModifier: int32(binary.BigEndian.Uint32(payload[off+12 : off+16])), //nolint:gosec // protocol-defined 32-bit field
			FormatCode:   int16(binary.BigEndian.Uint16(payload[off+16 : off+18])), //nolint:gosec // protocol-defined 16-bit field
		}
		off += 18
		fields = append(fields, fd)
	}
	return &RowDescription{Fields: fields}, nil
}

func readCString(data []byte, off int) (string, int, error) {
	for i := off; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[off:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("wire: unterminated string at offset %d", off)
}

// decodeDataRow reads a 16-bit column count then, for each column, a
// 32-bit signed length followed by that many value bytes, or nothing
// when the length is -1 (NULL).
func decodeDataRow(payload []byte) (*DataRow, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("wire: data row: short payload")
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	off := 2
	cells := make([]Cell, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(payload) {
			return nil, fmt.Errorf("wire: data row: truncated length")
		}
		length := int32(binary.BigEndian.Uint32(payload[off : off+4])) //nolint:gosec // protocol-defined 32-bit field
		off += 4
		if length < 0 {
			cells = append(cells, Cell{Null: true})
			continue
		}
		end := off + int(length)
		if end > len(payload) || length < 0 {
			return nil, fmt.Errorf("wire: data row: truncated value")
		}
		cells = append(cells, Cell{Data: payload[off:end]})
		off = end
	}
	return &DataRow{Cells: cells}, nil
}

// EncodeRowDescription serializes a RowDescription into its wire payload
// (excluding the tag and length prefix, which WriteFrame recomputes).
func EncodeRowDescription(rd *RowDescription) []byte {
	size := 2
	for _, f := range rd.Fields {
		size += len(f.Name) + 1 + 18
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(rd.Fields))) //nolint:gosec // field count bounded by protocol
	off := 2
	for _, f := range rd.Fields {
		off += copy(buf[off:], f.Name)
		buf[off] = 0
		off++
		binary.BigEndian.PutUint32(buf[off:off+4], f.TableOID)
		binary.BigEndian.PutUint16(buf[off+4:off+6], uint16(f.ColumnAttrNo)) //nolint:gosec // round-trips a decoded int16
		binary.BigEndian.PutUint32(buf[off+6:off+10], f.TypeOID)
		binary.BigEndian.PutUint16(buf[off+10:off+12], uint16(f.TypeLen)) //nolint:gosec // round-trips a decoded int16
		binary.BigEndian.PutUint32(buf[off+12:off+16], uint32(f.TypeModifier)) //nolint:gosec // round-trips a decoded int32
		binary.BigEndian.PutUint16(buf[off+16:off+18], uint16(f.FormatCode)) //nolint:gosec // round-trips a decoded int16
		off += 18
	}
	return buf
}

// EncodeDataRow serializes a DataRow into its wire payload.
func EncodeDataRow(dr *DataRow) []byte {
	size := 2
	for _, c := range dr.Cells {
		size += 4
		if !c.Null {
			size += len(c.Data)
		}
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(dr.Cells))) //nolint:gosec // cell count bounded by protocol
	off := 2
	for _, c := range dr.Cells {
		if c.Null {
			binary.BigEndian.PutUint32(buf[off:off+4], 0xFFFFFFFF) // NULL sentinel: -1 as an int32 length
			off += 4
			continue
		}
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(c.Data))) //nolint:gosec // length bounded by MaxFrameSize
		off += 4
		off += copy(buf[off:], c.Data)
	}
	return buf
}
