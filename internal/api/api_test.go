// internal/api/api_test.go
package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeCodes(t *testing.T) {
	if r := Success(); r.Code != CodeSuccess || r.Message != "success" {
		t.Fatalf("Success = %+v", r)
	}
	if r := SuccessWith(map[string]int{"n": 3}); r.Code != CodeSuccess || r.Result == nil {
		t.Fatalf("SuccessWith = %+v", r)
	}
	if r := Fail("nope"); r.Code != CodeFail || r.Message != "nope" {
		t.Fatalf("Fail = %+v", r)
	}
	if r := FailWith("bad field", "email"); r.Result != "email" {
		t.Fatalf("FailWith = %+v", r)
	}
}

func TestJSONShape(t *testing.T) {
	s, err := SuccessWith([]int{1, 2}).JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"code", "message", "result", "time"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing key %q in %s", k, s)
		}
	}
	ts, _ := m["time"].(string)
	if _, err := time.ParseInLocation("2006-01-02 15:04:05", ts, time.Local); err != nil {
		t.Fatalf("time %q not in wire layout: %v", ts, err)
	}
	if strings.Contains(ts, "T") {
		t.Fatalf("time %q leaked RFC 3339 formatting", ts)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	orig := Timestamp(time.Date(2026, 9, 1, 10, 30, 0, 0, time.Local))
	b, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Timestamp
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !time.Time(back).Equal(time.Time(orig)) {
		t.Fatalf("round trip drifted: %v != %v", time.Time(back), time.Time(orig))
	}
}
