package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testFrame struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testFrame{Type: "auction_event", AuctionID: "auction-001"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testFrame
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"type\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	frame := testFrame{Type: "heartbeat", AuctionID: ""}

	if err := Encode(buf, frame); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testFrame
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded != frame {
		t.Fatalf("expected decoded frame to match, got %#v", decoded)
	}
}
