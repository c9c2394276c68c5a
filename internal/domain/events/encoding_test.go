package events

import (
	"encoding/json"
	"testing"
)

func TestEncodingForSubprotocol(t *testing.T) {
	tests := []struct {
		subprotocol string
		want        Encoding
	}{
		{"", EncodingJSON},
		{SubprotocolJSON, EncodingJSON},
		{SubprotocolCBOR, EncodingCBOR},
		{"something-else", EncodingJSON},
	}

	for _, tt := range tests {
		if got := EncodingForSubprotocol(tt.subprotocol); got != tt.want {
			t.Errorf("EncodingForSubprotocol(%q) = %v, want %v", tt.subprotocol, got, tt.want)
		}
	}
}

func TestEncoding_CBORFrameKeepsIntegers(t *testing.T) {
	ev := NewBroadcastEvent("everyone", EventTypeMessageCreated, 42,
		json.RawMessage(`{"id":1,"user_id":7,"text":"hi","time":"01-01-2025-00-00-00","score":1.5}`))

	raw, err := ev.Encode(EncodingCBOR)
	if err != nil {
		t.Fatalf("Encode(cbor) error = %v", err)
	}

	var decoded cborFrame
	if err := cborDec.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("cbor decode error = %v", err)
	}
	if decoded.Seq != 42 || decoded.Channel != "everyone" || decoded.Event != "message-created" {
		t.Errorf("unexpected frame header: %+v", decoded)
	}

	data, ok := decoded.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data decoded as %T, want map", decoded.Data)
	}
	if _, isInt := data["user_id"].(uint64); !isInt {
		t.Errorf("user_id decoded as %T, want integer", data["user_id"])
	}
	if _, isFloat := data["score"].(float64); !isFloat {
		t.Errorf("score decoded as %T, want float64", data["score"])
	}
}

func TestEncoding_DecodeFrameRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingCBOR} {
		t.Run(string(enc), func(t *testing.T) {
			ev := NewBroadcastEvent("private-user.7", EventTypeMessageCreated, 9, json.RawMessage(`{"text":"hey"}`))
			raw, err := ev.Encode(enc)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			f, err := enc.DecodeFrame(raw)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if f.Seq != 9 || f.Channel != "private-user.7" {
				t.Errorf("frame = %+v", f)
			}

			var data map[string]string
			if err := json.Unmarshal(f.Data, &data); err != nil {
				t.Fatalf("data unmarshal error = %v", err)
			}
			if data["text"] != "hey" {
				t.Errorf("data.text = %q, want hey", data["text"])
			}
		})
	}
}

func TestEncoding_DecodeCommand(t *testing.T) {
	cmd, err := EncodingJSON.DecodeCommand([]byte(`{"event":" subscribe ","channel":"everyone"}`))
	if err != nil {
		t.Fatalf("DecodeCommand(json) error = %v", err)
	}
	if cmd.Event != CommandSubscribe || cmd.Channel != "everyone" {
		t.Errorf("cmd = %+v", cmd)
	}

	raw, err := cborEnc.Marshal(Command{Event: CommandUnsubscribe, Channel: "everyone"})
	if err != nil {
		t.Fatalf("cbor marshal error = %v", err)
	}
	cmd, err = EncodingCBOR.DecodeCommand(raw)
	if err != nil {
		t.Fatalf("DecodeCommand(cbor) error = %v", err)
	}
	if cmd.Event != CommandUnsubscribe {
		t.Errorf("cmd.Event = %q, want unsubscribe", cmd.Event)
	}

	if _, err := EncodingJSON.DecodeCommand([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed command")
	}
}

func TestControlFrame(t *testing.T) {
	f := ControlFrame(EventTypeSubscriptionError, "private-user.9", ErrorPayload{Code: "UNAUTHORIZED", Message: "denied"})

	if f.Event != "subscription_error" || f.Channel != "private-user.9" || f.Seq != 0 {
		t.Errorf("frame = %+v", f)
	}

	raw, err := EncodingJSON.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	var parsed map[string]interface{}
	_ = json.Unmarshal(raw, &parsed)
	if _, hasSeq := parsed["seq"]; hasSeq {
		t.Error("control frames should not carry a sequence number")
	}
}
