/*
Package codec is the Packer/Unpacker engine: it drives wire/field's
primitives over a wire/packet.Schema to turn a name->value Fields map
into payload bytes, and back. Nothing in this package knows about
sockets or request semantics — server/connection owns reading exactly
payload_size bytes off the wire and handing them here, and
server/handler owns what a Fields map means for a given request code.

This is the generalization the design notes call for: a packet type's
schema is shared, immutable data (wire/packet.Schema); a call's decoded
values live in a fresh Fields map. Size fields are resolved by name
against their sibling rather than by mutating the schema itself.
*/
package codec

import (
	"fmt"

	"github.com/lymdgit/relay/wire/field"
	"github.com/lymdgit/relay/wire/packet"
)

// Fields is a decoded or to-be-packed payload: field name to Go value.
// Value types by Kind: KindU8 -> uint8, KindU16 -> uint16,
// KindU32 -> uint32, KindU128 -> [16]byte, KindString -> string,
// KindBytesFixed/KindBytesRest/KindBytesVar -> []byte,
// KindCompound -> []Fields.
type Fields map[string]any

// PackRequestHeader builds the 23-byte request header: version, code,
// payload_size, and the sender's client id.
func PackRequestHeader(code uint16, senderID [16]byte, payloadSize uint32) []byte {
	buf := make([]byte, 0, packet.RequestHeaderSize)
	buf = append(buf, field.PackU8(packet.Version)...)
	buf = append(buf, field.PackU16(code)...)
	buf = append(buf, field.PackU32(payloadSize)...)
	buf = append(buf, field.PackU128(senderID)...)
	return buf
}

// RequestHeader is a decoded 23-byte request header.
type RequestHeader struct {
	Version     uint8
	Code        uint16
	PayloadSize uint32
	SenderID    [16]byte
}

// UnpackRequestHeader decodes exactly packet.RequestHeaderSize bytes.
// The caller is responsible for reading that many bytes off the
// connection first (see server/connection); this function never reads
// more or less than it is given.
func UnpackRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) != packet.RequestHeaderSize {
		return RequestHeader{}, fmt.Errorf("%w: request header is %d bytes, want %d", field.ErrDecode, len(buf), packet.RequestHeaderSize)
	}
	r := field.NewReader(buf)
	version, err := field.UnpackU8(r)
	if err != nil {
		return RequestHeader{}, err
	}
	code, err := field.UnpackU16(r)
	if err != nil {
		return RequestHeader{}, err
	}
	size, err := field.UnpackU32(r)
	if err != nil {
		return RequestHeader{}, err
	}
	sender, err := field.UnpackU128(r)
	if err != nil {
		return RequestHeader{}, err
	}
	return RequestHeader{Version: version, Code: code, PayloadSize: size, SenderID: sender}, nil
}

// PackResponseHeader builds the 7-byte response header: version, code,
// payload_size.
func PackResponseHeader(code uint16, payloadSize uint32) []byte {
	buf := make([]byte, 0, packet.ResponseHeaderSize)
	buf = append(buf, field.PackU8(packet.Version)...)
	buf = append(buf, field.PackU16(code)...)
	buf = append(buf, field.PackU32(payloadSize)...)
	return buf
}

// ResponseHeader is a decoded 7-byte response header.
type ResponseHeader struct {
	Version     uint8
	Code        uint16
	PayloadSize uint32
}

// UnpackResponseHeader decodes exactly packet.ResponseHeaderSize bytes.
// Used by the relayctl client, never by the server.
func UnpackResponseHeader(buf []byte) (ResponseHeader, error) {
	if len(buf) != packet.ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("%w: response header is %d bytes, want %d", field.ErrDecode, len(buf), packet.ResponseHeaderSize)
	}
	r := field.NewReader(buf)
	version, err := field.UnpackU8(r)
	if err != nil {
		return ResponseHeader{}, err
	}
	code, err := field.UnpackU16(r)
	if err != nil {
		return ResponseHeader{}, err
	}
	size, err := field.UnpackU32(r)
	if err != nil {
		return ResponseHeader{}, err
	}
	return ResponseHeader{Version: version, Code: code, PayloadSize: size}, nil
}

// PackPayload walks schema in order and produces its payload bytes.
func PackPayload(schema packet.Schema, values Fields) ([]byte, error) {
	return packTuple(schema, values)
}

// UnpackPayload walks schema over exactly len(data) bytes and decodes
// every declared field. Residual bytes after the last field is a decode
// error (spec.md §4.3).
func UnpackPayload(schema packet.Schema, data []byte) (Fields, error) {
	r := field.NewReader(data)
	values, err := unpackTuple(schema, r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d residual bytes after payload fields", field.ErrDecode, r.Remaining())
	}
	return values, nil
}

// packTuple packs one ordered list of specs — a top-level schema or one
// compound inner tuple — against a single Fields map.
func packTuple(specs []packet.Spec, values Fields) ([]byte, error) {
	var out []byte
	for _, spec := range specs {
		b, err := packField(spec, values)
		if err != nil {
			return nil, fmt.Errorf("pack %q: %w", spec.Name, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func packField(spec packet.Spec, values Fields) ([]byte, error) {
	if spec.SizeOf != "" {
		sibling, ok := values[spec.SizeOf].([]byte)
		if !ok {
			return nil, fmt.Errorf("missing sibling field %q for size field %q", spec.SizeOf, spec.Name)
		}
		return packSimpleInt(spec.Kind, uint64(len(sibling)))
	}

	v, ok := values[spec.Name]
	if !ok && spec.Kind != field.KindCompound {
		return nil, fmt.Errorf("missing value for field %q", spec.Name)
	}

	switch spec.Kind {
	case field.KindU8:
		n, err := asUint(v)
		if err != nil {
			return nil, err
		}
		return field.PackU8(uint8(n)), nil
	case field.KindU16:
		n, err := asUint(v)
		if err != nil {
			return nil, err
		}
		return field.PackU16(uint16(n)), nil
	case field.KindU32:
		n, err := asUint(v)
		if err != nil {
			return nil, err
		}
		return field.PackU32(uint32(n)), nil
	case field.KindU128:
		id, ok := v.([16]byte)
		if !ok {
			return nil, fmt.Errorf("field %q: want [16]byte, got %T", spec.Name, v)
		}
		return field.PackU128(id), nil
	case field.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: want string, got %T", spec.Name, v)
		}
		return field.PackString(s, spec.Width)
	case field.KindBytesFixed:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q: want []byte, got %T", spec.Name, v)
		}
		return field.PackBytesFixed(b, spec.Width)
	case field.KindBytesRest, field.KindBytesVar:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q: want []byte, got %T", spec.Name, v)
		}
		return field.PackBytesVerbatim(b), nil
	case field.KindCompound:
		tuples, _ := v.([]Fields)
		var out []byte
		for i, tuple := range tuples {
			b, err := packTuple(spec.Inner, tuple)
			if err != nil {
				return nil, fmt.Errorf("compound %q tuple %d: %w", spec.Name, i, err)
			}
			out = append(out, b...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %q: unknown kind %v", spec.Name, spec.Kind)
	}
}

// unpackTuple decodes one ordered list of specs from r. Size fields
// (SizeOf set) are remembered by name for the KindBytesVar field that
// follows (SizedBy set); the scope of that bookkeeping is exactly one
// tuple, matching the protocol's per-message/per-compound-entry nesting.
func unpackTuple(specs []packet.Spec, r *field.Reader) (Fields, error) {
	values := make(Fields, len(specs))
	sizes := make(map[string]int)

	for _, spec := range specs {
		switch spec.Kind {
		case field.KindU8:
			n, err := field.UnpackU8(r)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = n
			if spec.SizeOf != "" {
				sizes[spec.Name] = int(n)
			}
		case field.KindU16:
			n, err := field.UnpackU16(r)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = n
			if spec.SizeOf != "" {
				sizes[spec.Name] = int(n)
			}
		case field.KindU32:
			n, err := field.UnpackU32(r)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = n
			if spec.SizeOf != "" {
				sizes[spec.Name] = int(n)
			}
		case field.KindU128:
			id, err := field.UnpackU128(r)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = id
		case field.KindString:
			s, err := field.UnpackString(r, spec.Width)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = s
		case field.KindBytesFixed:
			b, err := field.UnpackBytesFixed(r, spec.Width)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = b
		case field.KindBytesRest:
			values[spec.Name] = field.UnpackBytesRest(r)
		case field.KindBytesVar:
			n, ok := sizes[spec.SizedBy]
			if !ok {
				return nil, fmt.Errorf("field %q: no size recorded from %q", spec.Name, spec.SizedBy)
			}
			b, err := field.UnpackBytesVar(r, n)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", spec.Name, err)
			}
			values[spec.Name] = b
		case field.KindCompound:
			var tuples []Fields
			for r.Remaining() > 0 {
				tuple, err := unpackTuple(spec.Inner, r)
				if err != nil {
					return nil, fmt.Errorf("compound %q: %w", spec.Name, err)
				}
				tuples = append(tuples, tuple)
			}
			values[spec.Name] = tuples
		default:
			return nil, fmt.Errorf("field %q: unknown kind %v", spec.Name, spec.Kind)
		}
	}
	return values, nil
}

// packSimpleInt packs an integer Kind (U8/U16/U32) from a plain uint64,
// used for the auto-computed size fields.
func packSimpleInt(k field.Kind, n uint64) ([]byte, error) {
	switch k {
	case field.KindU8:
		return field.PackU8(uint8(n)), nil
	case field.KindU16:
		return field.PackU16(uint16(n)), nil
	case field.KindU32:
		return field.PackU32(uint32(n)), nil
	default:
		return nil, fmt.Errorf("size field kind %v is not an integer kind", k)
	}
}

func asUint(v any) (uint64, error) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("want an unsigned integer, got %T", v)
	}
}

