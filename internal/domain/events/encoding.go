package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Encoding is a wire representation negotiated per connection.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// WebSocket subprotocols advertised for each encoding.
const (
	SubprotocolJSON = "chatcast.json"
	SubprotocolCBOR = "chatcast.cbor"
)

// Subprotocols lists the accepted subprotocols in preference order.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// Frame is the wire projection of an event or a control reply.
type Frame struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// cborFrame mirrors Frame with a decoded payload so binary clients receive
// native CBOR maps instead of embedded JSON text.
type cborFrame struct {
	Channel string      `cbor:"channel,omitempty"`
	Event   string      `cbor:"event"`
	Seq     uint64      `cbor:"seq,omitempty"`
	Data    interface{} `cbor:"data,omitempty"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodingForSubprotocol returns the encoding for a negotiated subprotocol.
// Unknown or empty subprotocols fall back to JSON.
func EncodingForSubprotocol(subprotocol string) Encoding {
	if subprotocol == SubprotocolCBOR {
		return EncodingCBOR
	}
	return EncodingJSON
}

// Subprotocol returns the WebSocket subprotocol name for the encoding.
func (e Encoding) Subprotocol() string {
	if e == EncodingCBOR {
		return SubprotocolCBOR
	}
	return SubprotocolJSON
}

// Binary reports whether frames must be sent as binary WebSocket messages.
func (e Encoding) Binary() bool {
	return e == EncodingCBOR
}

// EncodeFrame serializes a frame.
func (e Encoding) EncodeFrame(f Frame) ([]byte, error) {
	switch e {
	case EncodingCBOR:
		var data interface{}
		if len(f.Data) > 0 {
			decoded, err := decodeJSONValue(f.Data)
			if err != nil {
				return nil, fmt.Errorf("decode frame data: %w", err)
			}
			data = decoded
		}
		return cborEnc.Marshal(cborFrame{
			Channel: f.Channel,
			Event:   f.Event,
			Seq:     f.Seq,
			Data:    data,
		})
	default:
		return json.Marshal(f)
	}
}

// DecodeFrame parses a frame produced by EncodeFrame. Used by clients and tests.
func (e Encoding) DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	switch e {
	case EncodingCBOR:
		var cf cborFrame
		if err := cborDec.Unmarshal(raw, &cf); err != nil {
			return f, err
		}
		f.Channel, f.Event, f.Seq = cf.Channel, cf.Event, cf.Seq
		if cf.Data != nil {
			data, err := json.Marshal(cf.Data)
			if err != nil {
				return f, err
			}
			f.Data = data
		}
		return f, nil
	default:
		err := json.Unmarshal(raw, &f)
		return f, err
	}
}

// decodeJSONValue decodes JSON keeping integers as int64 so they survive the
// trip into CBOR as integers rather than floats.
func decodeJSONValue(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
