package command

import (
	"encoding/binary"
	"errors"

	"github.com/l1jgo/simcore/internal/entity"
)

// ABIVersionMajor and ABIVersionMinor version the compact binary Command
// encoding used at the plugin ABI boundary (spec.md §6). The encoding is
// stable across versions within one MAJOR; plugins built against an
// incompatible MAJOR must fail to load.
const (
	ABIVersionMajor = 1
	ABIVersionMinor = 0
)

var (
	// ErrSerialize is returned when a byte blob cannot be decoded as a Command.
	ErrSerialize = errors.New("command: malformed encoding")
	// ErrOutOfBounds is returned when a decode walks past the end of the buffer.
	ErrOutOfBounds = errors.New("command: read out of bounds")
)

// Writer builds a length-prefixed binary encoding of a Command, mirroring
// the little-endian, explicit-width primitive style the teacher's packet
// writer uses for its wire protocol (internal-net-packet in the pack).
type Writer struct {
	buf []byte
}

// NewWriter returns an empty command-encoding writer.
func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

func (w *Writer) writeByte(v byte)   { w.buf = append(w.buf, v) }
func (w *Writer) writeUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *Writer) writeBytes(v []byte) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(v)))
	w.buf = append(w.buf, l[:]...)
	w.buf = append(w.buf, v...)
}
func (w *Writer) writeString(s string) { w.writeBytes([]byte(s)) }

// Encode serializes a Command to its compact binary form:
//
//	[1B kind][8B entity][8B target][len-prefixed component][len-prefixed event][len-prefixed payload]
func Encode(c Command) []byte {
	w := NewWriter()
	w.writeByte(byte(c.Kind))
	w.writeUint64(c.Entity.ToUint64())
	w.writeUint64(c.Target.ToUint64())
	w.writeString(c.Component)
	w.writeString(c.Event)
	w.writeBytes(c.Payload)
	return w.buf
}

// Reader walks a Command's binary encoding.
type Reader struct {
	data []byte
	off  int
}

// NewDecodeReader wraps data for decoding.
func NewDecodeReader(data []byte) *Reader { return &Reader{data: data} }

func (r *Reader) readByte() (byte, error) {
	if r.off+1 > len(r.data) {
		return 0, ErrOutOfBounds
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *Reader) readUint64() (uint64, error) {
	if r.off+8 > len(r.data) {
		return 0, ErrOutOfBounds
	}
	v := binary.LittleEndian.Uint64(r.data[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *Reader) readBytes() ([]byte, error) {
	if r.off+4 > len(r.data) {
		return nil, ErrOutOfBounds
	}
	n := binary.LittleEndian.Uint32(r.data[r.off : r.off+4])
	r.off += 4
	if r.off+int(n) > len(r.data) {
		return nil, ErrOutOfBounds
	}
	v := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Decode parses a Command from its binary encoding. Returns ErrOutOfBounds
// if the buffer is truncated, ErrSerialize if the kind byte is unknown.
func Decode(data []byte) (Command, error) {
	r := NewDecodeReader(data)

	kindByte, err := r.readByte()
	if err != nil {
		return Command{}, err
	}
	if kindByte > byte(KindMoveEntity) {
		return Command{}, ErrSerialize
	}

	entID, err := r.readUint64()
	if err != nil {
		return Command{}, err
	}
	targetID, err := r.readUint64()
	if err != nil {
		return Command{}, err
	}
	comp, err := r.readBytes()
	if err != nil {
		return Command{}, err
	}
	event, err := r.readBytes()
	if err != nil {
		return Command{}, err
	}
	payload, err := r.readBytes()
	if err != nil {
		return Command{}, err
	}

	return Command{
		Kind:      Kind(kindByte),
		Entity:    entity.FromUint64(entID),
		Target:    entity.FromUint64(targetID),
		Component: string(comp),
		Event:     string(event),
		Payload:   payload,
	}, nil
}
