package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/valyala/fastjson"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// TextKey holds a delimited text segment.
	TextKey = "log"
	// ArrayKey wraps a top-level JSON array.
	ArrayKey = "msg"
)

// Payload is the body of a record. Every payload encodes as a MessagePack map.
type Payload interface {
	msgpack.CustomEncoder
}

// Record is a payload stamped with its capture time.
type Record struct {
	Time    time.Time
	Payload Payload
}

// TextPayload is a single-field map holding a raw text segment.
type TextPayload struct {
	Key   string
	Value []byte
}

var _ msgpack.CustomEncoder = TextPayload{}

func (p TextPayload) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString(p.Key); err != nil {
		return err
	}
	return enc.EncodeString(string(p.Value))
}

// JSONPayload is a parsed JSON object, or an array wrapped under ArrayKey.
// Object keys keep their input order.
type JSONPayload struct {
	value *fastjson.Value
}

var _ msgpack.CustomEncoder = (*JSONPayload)(nil)

var errNotContainer = errors.New("record is not a JSON map or array")

// NormalizeJSON turns a top-level JSON value into a record payload.
func NormalizeJSON(v *fastjson.Value) (*JSONPayload, error) {
	switch v.Type() {
	case fastjson.TypeObject, fastjson.TypeArray:
		return &JSONPayload{value: v}, nil
	default:
		return nil, fmt.Errorf("%w: got %s", errNotContainer, v.Type())
	}
}

func (p *JSONPayload) EncodeMsgpack(enc *msgpack.Encoder) error {
	if p.value.Type() == fastjson.TypeArray {
		if err := enc.EncodeMapLen(1); err != nil {
			return err
		}
		if err := enc.EncodeString(ArrayKey); err != nil {
			return err
		}
	}
	return encodeJSONValue(enc, p.value)
}

func encodeJSONValue(enc *msgpack.Encoder, v *fastjson.Value) error {
	switch v.Type() {
	case fastjson.TypeObject:
		o, err := v.Object()
		if err != nil {
			return err
		}
		if err := enc.EncodeMapLen(o.Len()); err != nil {
			return err
		}
		var visitErr error
		o.Visit(func(key []byte, value *fastjson.Value) {
			if visitErr != nil {
				return
			}
			if visitErr = enc.EncodeString(string(key)); visitErr != nil {
				return
			}
			visitErr = encodeJSONValue(enc, value)
		})
		return visitErr
	case fastjson.TypeArray:
		items, err := v.Array()
		if err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(items)); err != nil {
			return err
		}
		for _, item := range items {
			if err := encodeJSONValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case fastjson.TypeString:
		s, err := v.StringBytes()
		if err != nil {
			return err
		}
		return enc.EncodeString(string(s))
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return enc.EncodeInt(n)
		}
		if n, err := v.Uint64(); err == nil {
			return enc.EncodeUint(n)
		}
		f, err := v.Float64()
		if err != nil {
			return err
		}
		return enc.EncodeFloat64(f)
	case fastjson.TypeTrue:
		return enc.EncodeBool(true)
	case fastjson.TypeFalse:
		return enc.EncodeBool(false)
	case fastjson.TypeNull:
		return enc.EncodeNil()
	default:
		return fmt.Errorf("unsupported JSON type %s", v.Type())
	}
}

// EncodeBatch serializes records, in order, as concatenated
// [timestamp, payload] MessagePack arrays.
func EncodeBatch(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	for _, rec := range records {
		if err := enc.EncodeArrayLen(2); err != nil {
			return nil, err
		}
		if err := enc.EncodeTime(rec.Time); err != nil {
			return nil, err
		}
		if err := rec.Payload.EncodeMsgpack(enc); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodedRecord is one entry of an encoded batch.
type DecodedRecord struct {
	Time    time.Time
	Payload map[string]any
}

// DecodeBatch reads every [timestamp, payload] entry from data. Integers
// decode as int64 or uint64, floats as float64.
func DecodeBatch(data []byte) ([]DecodedRecord, error) {
	return DecodeStream(bytes.NewReader(data))
}

// DecodeStream is DecodeBatch over a reader holding one or more batches.
func DecodeStream(r io.Reader) ([]DecodedRecord, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var out []DecodedRecord
	for {
		n, err := dec.DecodeArrayLen()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if n != 2 {
			return out, fmt.Errorf("record has %d elements, want 2", n)
		}
		ts, err := dec.DecodeTime()
		if err != nil {
			return out, fmt.Errorf("decode timestamp: %w", err)
		}
		v, err := dec.DecodeInterface()
		if err != nil {
			return out, fmt.Errorf("decode payload: %w", err)
		}
		payload, ok := v.(map[string]any)
		if !ok {
			return out, fmt.Errorf("payload is %T, want map", v)
		}
		out = append(out, DecodedRecord{Time: ts, Payload: payload})
	}
}
