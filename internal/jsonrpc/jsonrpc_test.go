package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		str  string
		wire string
	}{
		{`7`, "7", `7`},
		{`7.0`, "7", `7`},
		{`1.5`, "1.5", `1.5`},
		{`"abc"`, "abc", `"abc"`},
		{`"7"`, "7", `"7"`},
		{`null`, "", `null`},
	}
	for _, tc := range cases {
		var id RequestID
		if err := json.Unmarshal([]byte(tc.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if id.String() != tc.str {
			t.Fatalf("%s: String() = %q, want %q", tc.in, id.String(), tc.str)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal %s: %v", tc.in, err)
		}
		if string(out) != tc.wire {
			t.Fatalf("%s: wire = %s, want %s", tc.in, out, tc.wire)
		}
	}

	for _, bad := range []string{`true`, `{}`, `[1]`} {
		var id RequestID
		if err := json.Unmarshal([]byte(bad), &id); err == nil {
			t.Fatalf("expected %s to be rejected", bad)
		}
	}
}

func TestNewRequestID(t *testing.T) {
	if NewRequestID(uint8(3)).String() != "3" || NewRequestID(float32(2)).String() != "2" {
		t.Fatalf("numeric ids not normalized")
	}
	if !NewRequestID(struct{}{}).IsNil() {
		t.Fatalf("unsupported types should yield a null id")
	}
	var nilID *RequestID
	if !nilID.IsNil() || nilID.String() != "" {
		t.Fatalf("nil id should be null")
	}
}

func TestAnyMessageType(t *testing.T) {
	cases := []struct {
		raw  string
		kind string
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{`{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{`{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, KindResponse},
	}
	for _, tc := range cases {
		var m AnyMessage
		if err := json.Unmarshal([]byte(tc.raw), &m); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if m.Type() != tc.kind {
			t.Fatalf("%s: type = %s, want %s", tc.raw, m.Type(), tc.kind)
		}
		if (m.AsRequest() == nil) != (tc.kind == KindResponse) {
			t.Fatalf("%s: AsRequest mismatch", tc.raw)
		}
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`,
		`{"jsonrpc":"2.0","id":true,"method":"ping"}`,
	} {
		var m AnyMessage
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}

func TestResponseAlwaysCarriesID(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(got["id"]) != "null" {
		t.Fatalf("id = %s, want null", got["id"])
	}
}
