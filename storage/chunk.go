// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// chunkRecordSize is the encoded size of a single chunk descriptor.
const chunkRecordSize = 16

// Chunk is a contiguous byte range inside a user's container.
type Chunk struct {
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// End returns the offset just past the last byte of the chunk.
func (c Chunk) End() uint64 { return c.Offset + c.Size }

// String implements fmt.Stringer.
func (c Chunk) String() string { return fmt.Sprintf("[%d+%d]", c.Offset, c.Size) }

// Chunks is the ordered list of chunks backing an object. Content is the
// concatenation of the chunks in list order.
type Chunks []Chunk

// TotalSize returns the sum of all chunk sizes.
func (cs Chunks) TotalSize() (total uint64) {
	for _, c := range cs {
		total += c.Size
	}
	return total
}

// String implements fmt.Stringer.
func (cs Chunks) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Clone returns a copy of the list that does not alias cs.
func (cs Chunks) Clone() Chunks {
	if cs == nil {
		return nil
	}
	return append(Chunks(nil), cs...)
}

// MarshalBinary encodes the list as fixed size big endian records. The
// fixed size lets backends extend an encoded list by concatenation.
func (cs Chunks) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(cs)*chunkRecordSize)
	for _, c := range cs {
		buf = c.appendTo(buf)
	}
	return buf, nil
}

// UnmarshalBinary decodes a list encoded with MarshalBinary.
func (cs *Chunks) UnmarshalBinary(data []byte) error {
	if len(data)%chunkRecordSize != 0 {
		return ErrBackend.New("chunk list has invalid length %d", len(data))
	}
	out := make(Chunks, 0, len(data)/chunkRecordSize)
	for len(data) > 0 {
		out = append(out, Chunk{
			Offset: binary.BigEndian.Uint64(data[0:8]),
			Size:   binary.BigEndian.Uint64(data[8:16]),
		})
		data = data[chunkRecordSize:]
	}
	*cs = out
	return nil
}

// MarshalBinary encodes a single chunk in the same format as Chunks.
func (c Chunk) MarshalBinary() ([]byte, error) {
	return c.appendTo(make([]byte, 0, chunkRecordSize)), nil
}

func (c Chunk) appendTo(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, c.Offset)
	return binary.BigEndian.AppendUint64(buf, c.Size)
}

// EncodeChunks is a convenience wrapper around Chunks.MarshalBinary.
func EncodeChunks(cs Chunks) []byte {
	data, _ := cs.MarshalBinary()
	return data
}

// DecodeChunks is a convenience wrapper around Chunks.UnmarshalBinary.
func DecodeChunks(data []byte) (Chunks, error) {
	var cs Chunks
	err := cs.UnmarshalBinary(data)
	return cs, err
}
