// Package codec implements the MIP wire format: sync-delimited frames carrying a
// declared-length payload of typed records, terminated by a Fletcher-8 checksum.
//
// Frame format:
//
//	[0x75][0x65][category][L][records (L bytes)][checksum MSB][checksum LSB]
//
// Each record is [length][type id][data (length-2 bytes)], where length counts
// itself and the type id byte. The checksum covers every preceding byte.
package codec

import (
	"fmt"
)

const (
	// Sync0 and Sync1 open every frame.
	Sync0 = 0x75
	Sync1 = 0x65

	// HeaderSize is sync0 + sync1 + category id.
	HeaderSize = 3
	// ChecksumSize is the size of the trailing checksum.
	ChecksumSize = 2
	// RecordHeaderSize is the length byte plus the type id byte of a record.
	RecordHeaderSize = 2
	// MinFrameSize is the smallest byte count DecodeFrame will look at.
	MinFrameSize = 6

	// MaxPayloadLength is the largest value the one-byte declared length can hold.
	MaxPayloadLength = 0xFF
	// MaxRecordData is the largest data section a single record can carry.
	MaxRecordData = 0xFF - RecordHeaderSize
)

// Header is the fixed three-byte frame prefix.
type Header struct {
	Sync0      uint8
	Sync1      uint8
	Descriptor uint8 // category id (set descriptor)
}

// Bytes returns the wire form of the header.
func (h Header) Bytes() []byte {
	return []byte{h.Sync0, h.Sync1, h.Descriptor}
}

// RawRecord is one undecoded, length-prefixed record from a payload.
type RawRecord struct {
	Length     uint8
	Descriptor uint8 // record type id within the frame's category
	Data       []byte
}

// NewRawRecord builds a record for typeID with a correct length byte.
func NewRawRecord(typeID uint8, data []byte) (RawRecord, error) {
	if len(data) > MaxRecordData {
		return RawRecord{}, fmt.Errorf("%w: %d data bytes", ErrRecordTooLarge, len(data))
	}
	d := make([]byte, len(data))
	copy(d, data)
	return RawRecord{
		Length:     uint8(RecordHeaderSize + len(data)),
		Descriptor: typeID,
		Data:       d,
	}, nil
}

// Bytes returns the wire form of the record.
func (r RawRecord) Bytes() []byte {
	out := make([]byte, 0, RecordHeaderSize+len(r.Data))
	out = append(out, r.Length, r.Descriptor)
	return append(out, r.Data...)
}

// decodeRawRecord reads one record from the start of data.
func decodeRawRecord(data []byte) (RawRecord, int, error) {
	if len(data) < RecordHeaderSize {
		return RawRecord{}, 0, insufficient(RecordHeaderSize, len(data))
	}
	length := int(data[0])
	if length < RecordHeaderSize {
		return RawRecord{}, 0, insufficient(RecordHeaderSize, length)
	}
	if length > len(data) {
		return RawRecord{}, 0, insufficient(length, len(data))
	}

	rec := RawRecord{
		Length:     data[0],
		Descriptor: data[1],
		Data:       make([]byte, length-RecordHeaderSize),
	}
	copy(rec.Data, data[RecordHeaderSize:length])
	return rec, length, nil
}

// Payload is the declared length byte followed by the records it covers.
// Length counts the record bytes after the length byte itself; decoding also
// accepts a length that includes the length byte.
type Payload struct {
	Length  uint8
	Records []RawRecord
}

// Bytes returns the wire form of the payload.
func (p Payload) Bytes() []byte {
	out := []byte{p.Length}
	for _, r := range p.Records {
		out = append(out, r.Bytes()...)
	}
	return out
}

// decodePayload parses the payload region between the header and the checksum.
func decodePayload(data []byte) (Payload, error) {
	if len(data) < 1 {
		return Payload{}, insufficient(1, 0)
	}
	declared := int(data[0])
	body := data[1:]

	// Some producers count the length byte itself in the declared length.
	// Both forms are accepted and the length byte is kept as received.
	end := declared
	if declared > 0 && len(body) == declared-1 {
		end = declared - 1
	}
	if len(body) < end {
		return Payload{}, insufficient(declared, len(body))
	}
	if len(body) > end {
		return Payload{}, fmt.Errorf("%w: declared %d, found %d", ErrTrailingBytes, declared, len(body))
	}

	p := Payload{Length: data[0]}
	for offset := 0; offset < end; {
		rec, n, err := decodeRawRecord(body[offset:])
		if err != nil {
			return Payload{}, fmt.Errorf("record at payload offset %d: %w", offset+1, err)
		}
		p.Records = append(p.Records, rec)
		offset += n
	}
	return p, nil
}

// Checksum is the two-byte Fletcher-8 trailer.
type Checksum struct {
	MSB uint8
	LSB uint8
}

// Bytes returns the wire form of the checksum.
func (c Checksum) Bytes() []byte {
	return []byte{c.MSB, c.LSB}
}

func (c Checksum) String() string {
	return fmt.Sprintf("%02x%02x", c.MSB, c.LSB)
}

// RawFrame is one complete frame: header, payload and checksum.
type RawFrame struct {
	Header   Header
	Payload  Payload
	Checksum Checksum
}

// NewRawFrame assembles a frame for category from records, computing the
// declared length and the checksum.
func NewRawFrame(category uint8, records ...RawRecord) (*RawFrame, error) {
	total := 0
	for _, r := range records {
		total += int(r.Length)
	}
	if total > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d record bytes", ErrPayloadTooLarge, total)
	}

	f := &RawFrame{
		Header:  Header{Sync0: Sync0, Sync1: Sync1, Descriptor: category},
		Payload: Payload{Length: uint8(total), Records: records},
	}
	body := append(f.Header.Bytes(), f.Payload.Bytes()...)
	f.Checksum = Fletcher8(body)
	return f, nil
}

// Category returns the frame's category id.
func (f *RawFrame) Category() uint8 {
	return f.Header.Descriptor
}

// Encode returns the exact wire bytes of the frame.
func (f *RawFrame) Encode() []byte {
	out := f.Header.Bytes()
	out = append(out, f.Payload.Bytes()...)
	return append(out, f.Checksum.Bytes()...)
}

// Size returns the number of bytes Encode produces.
func (f *RawFrame) Size() int {
	n := HeaderSize + 1 + ChecksumSize
	for _, r := range f.Payload.Records {
		n += RecordHeaderSize + len(r.Data)
	}
	return n
}

// DecodeFrame decodes one complete candidate frame. The checksum is verified
// before anything else is parsed, so a failed decode never yields a partial frame.
// Sync bytes are recorded as found; locating them is the caller's job.
func DecodeFrame(data []byte) (*RawFrame, error) {
	if len(data) < MinFrameSize {
		return nil, insufficient(MinFrameSize, len(data))
	}

	checksumOffset := len(data) - ChecksumSize
	received := Checksum{MSB: data[checksumOffset], LSB: data[checksumOffset+1]}
	if !ValidateChecksum(data[:checksumOffset], received) {
		return nil, fmt.Errorf("%w: computed %s, received %s", ErrBadChecksum, Fletcher8(data[:checksumOffset]), received)
	}

	payload, err := decodePayload(data[HeaderSize:checksumOffset])
	if err != nil {
		return nil, err
	}

	return &RawFrame{
		Header: Header{
			Sync0:      data[0],
			Sync1:      data[1],
			Descriptor: data[2],
		},
		Payload:  payload,
		Checksum: received,
	}, nil
}
