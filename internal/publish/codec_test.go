package publish

import "testing"

func TestParseEncoding(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "base64": "base64"} {
		c, err := ParseEncoding(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if c.Name() != want {
			t.Errorf("%q: expected %s, got %s", name, want, c.Name())
		}
	}
	if _, err := ParseEncoding("protobuf"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestCodecs_DecodeInvertsEncode(t *testing.T) {
	body := []byte(`{"channel":"C1","text":"hello"}`)
	for _, c := range []Codec{JSONCodec{}, Base64Codec{}} {
		msg, err := c.Encode(body)
		if err != nil {
			t.Fatalf("%s encode: %v", c.Name(), err)
		}
		got, err := c.Decode(msg)
		if err != nil {
			t.Fatalf("%s decode: %v", c.Name(), err)
		}
		if string(got) != string(body) {
			t.Errorf("%s: expected %s, got %s", c.Name(), body, got)
		}
	}
}

func TestCodecs_DecodeRejects(t *testing.T) {
	if _, err := (JSONCodec{}).Decode([]byte("eyJhIjoxfQ==")); err == nil {
		t.Error("json codec must reject base64 text")
	}
	if _, err := (Base64Codec{}).Decode([]byte(`{"a":1}`)); err == nil {
		t.Error("base64 codec must reject raw JSON")
	}
	if _, err := (Base64Codec{}).Decode([]byte("bm90IGpzb24=")); err == nil {
		t.Error("base64 codec must reject non-JSON content")
	}
}
