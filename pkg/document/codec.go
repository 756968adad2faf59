package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// EncodeValue serializes a Value into Flux's durable wire format. Object
// keys are written in sorted order so two structurally equal values always
// produce byte-identical encodings, and re-encoding a decoded value
// reproduces the original bytes exactly.
func EncodeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindInt64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		buf.Write(tmp[:])
	case KindFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Float))
		buf.Write(tmp[:])
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindBytes:
		writeUvarintBytes(buf, v.Bytes)
	case KindString:
		writeUvarintBytes(buf, []byte(v.Str))
	case KindArray:
		writeUvarint(buf, uint64(len(v.Array)))
		for _, e := range v.Array {
			EncodeValue(buf, e)
		}
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			writeUvarintBytes(buf, []byte(k))
			EncodeValue(buf, v.Object[k])
		}
	default:
		panic(fmt.Sprintf("document: cannot encode value kind %d", v.Kind))
	}
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(r *bytes.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	kind := ValueKind(kindByte)
	switch kind {
	case KindNull:
		return Null(), nil
	case KindInt64:
		var tmp [8]byte
		if _, err := r.Read(tmp[:]); err != nil {
			return Value{}, err
		}
		return Int(int64(binary.BigEndian.Uint64(tmp[:]))), nil
	case KindFloat64:
		var tmp [8]byte
		if _, err := r.Read(tmp[:]); err != nil {
			return Value{}, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))), nil
	case KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindBytes:
		b, err := readUvarintBytes(r)
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case KindString:
		b, err := readUvarintBytes(r)
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case KindArray:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, n)
		for i := range arr {
			arr[i], err = DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
		}
		return Array(arr), nil
	case KindObject:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		obj := make(map[string]Value, n)
		for i := uint64(0); i < n; i++ {
			k, err := readUvarintBytes(r)
			if err != nil {
				return Value{}, err
			}
			v, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			obj[string(k)] = v
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("document: unknown value tag %d", kindByte)
	}
}

func writeUvarint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:l])
}

func writeUvarintBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readUvarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

// EncodeRevision serializes a Revision for the persistence log: (tablet:16,
// id:16, ts:u64, tombstone:bool, value:serialized).
func EncodeRevision(rev Revision) []byte {
	var buf bytes.Buffer
	buf.Write(rev.Tablet[:])
	buf.Write(rev.ID[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(rev.Ts))
	buf.Write(tsBuf[:])
	if rev.Tombstone {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	EncodeValue(&buf, rev.Value)
	return buf.Bytes()
}

// DecodeRevision is the inverse of EncodeRevision.
func DecodeRevision(data []byte) (Revision, error) {
	if len(data) < 16+16+8+1 {
		return Revision{}, fmt.Errorf("document: revision record too short (%d bytes)", len(data))
	}
	var rev Revision
	copy(rev.Tablet[:], data[0:16])
	copy(rev.ID[:], data[16:32])
	rev.Ts = Timestamp(binary.BigEndian.Uint64(data[32:40]))
	rev.Tombstone = data[40] != 0
	v, err := DecodeValue(bytes.NewReader(data[41:]))
	if err != nil {
		return Revision{}, err
	}
	rev.Value = v
	return rev, nil
}
