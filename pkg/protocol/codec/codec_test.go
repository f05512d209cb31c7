package codec

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

type chat struct {
	From string
	Text string
	Seq  uint32
}

func TestJSONCodec(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(chat{From: "a", Text: "hi", Seq: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out chat
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != (chat{From: "a", Text: "hi", Seq: 1}) {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	m := map[string]int{"z": 1, "a": 2, "m": 3}
	first, err := c.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		b, _ := c.Marshal(m)
		if string(b) != string(first) {
			t.Fatalf("encoding changed between runs")
		}
	}
	var out chat
	b, _ := c.Marshal(chat{Text: "x", Seq: 7})
	if err := c.Unmarshal(b, &out); err != nil || out.Seq != 7 || out.Text != "x" {
		t.Fatalf("roundtrip: %#v %v", out, err)
	}
	if err := c.Unmarshal([]byte{0xff, 0x00}, &out); err == nil {
		t.Fatalf("garbage decoded without error")
	}
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	b, err := c.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out structpb.Struct
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Fields["k"].GetStringValue() != "v" {
		t.Fatalf("roundtrip mismatch")
	}
	if _, err := c.Marshal(chat{}); err == nil {
		t.Fatalf("non-proto value accepted")
	}
}

func TestRegistryByName(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, name := range []string{"cbor", "JSON", "proto", ""} {
		if _, err := r.ByName(name); err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
	}
	if c, _ := r.ByName(""); c.Name() != Default {
		t.Fatalf("empty name must select %s, got %s", Default, c.Name())
	}
	if _, err := r.ByName("bincode"); err == nil {
		t.Fatalf("unknown codec accepted")
	}
	if r.Get("application/json") == nil {
		t.Fatalf("lookup by content type failed")
	}
}
