package codec

import (
	"testing"

	"gctl/cncerr"
)

func TestParseTinyGJSONBareKeys(t *testing.T) {
	obj, err := parseTinyGJSON(`{r:{fv:440.2,fb:100.11,hp:1},f:[1,0,10,1036]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := obj["r"].(map[string]any)
	if !ok {
		t.Fatalf("r is not an object: %#v", obj["r"])
	}
	if r["fv"].(float64) != 440.2 {
		t.Fatalf("got fv %v", r["fv"])
	}
	f, ok := obj["f"].([]any)
	if !ok || len(f) != 4 {
		t.Fatalf("got f %#v", obj["f"])
	}
}

func TestParseTinyGJSONBareLiterals(t *testing.T) {
	obj, err := parseTinyGJSON(`{a:t,b:f,c:n}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["a"] != true {
		t.Fatalf("got a=%v, want true", obj["a"])
	}
	if obj["b"] != false {
		t.Fatalf("got b=%v, want false", obj["b"])
	}
	if obj["c"] != nil {
		t.Fatalf("got c=%v, want nil", obj["c"])
	}
}

func TestParseTinyGJSONQuotedKeysStillWork(t *testing.T) {
	obj, err := parseTinyGJSON(`{"r":{"msg":"SYSTEM READY"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := obj["r"].(map[string]any)
	if r["msg"] != "SYSTEM READY" {
		t.Fatalf("got msg %v", r["msg"])
	}
}

func TestEncodeTinyGJSONBareKeysAndPrecision(t *testing.T) {
	got := encodeTinyGJSON(map[string]any{"gc": "G0 X10.123456", "x": 10.123456789}, 5)
	want := `{gc:"G0 X10.123456",x:10.12346}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatTinyGFloatTrimsTrailingZeros(t *testing.T) {
	if got := formatTinyGFloat(10.5, 5); got != "10.5" {
		t.Fatalf("got %q, want 10.5", got)
	}
	if got := formatTinyGFloat(10, 5); got != "10" {
		t.Fatalf("got %q, want 10", got)
	}
	if got := formatTinyGFloat(10.123456789, 5); got != "10.12346" {
		t.Fatalf("got %q, want 10.12346", got)
	}
}

func TestParseTinyGLineWelcome(t *testing.T) {
	ev := ParseTinyGLine(`{r:{msg:"SYSTEM READY"}}`)
	if ev.Kind != KindWelcome {
		t.Fatalf("got kind %v, want KindWelcome", ev.Kind)
	}
	if ev.Version != "SYSTEM READY" {
		t.Fatalf("got version %q", ev.Version)
	}
}

func TestParseTinyGLineAck(t *testing.T) {
	ev := ParseTinyGLine(`{r:{},f:[1,0,10,1036]}`)
	if ev.Kind != KindAck {
		t.Fatalf("got kind %v, want KindAck", ev.Kind)
	}
}

func TestParseTinyGLineErrorFooter(t *testing.T) {
	ev := ParseTinyGLine(`{r:{},f:[1,20,10,1036]}`)
	if ev.Kind != KindErrorAck {
		t.Fatalf("got kind %v, want KindErrorAck", ev.Kind)
	}
	if ev.ErrCode != "20" {
		t.Fatalf("got err code %q, want 20", ev.ErrCode)
	}
	if ev.ErrKind != cncerr.MachineError {
		t.Fatalf("got err kind %v", ev.ErrKind)
	}
}

func TestParseTinyGLineStatusReport(t *testing.T) {
	ev := ParseTinyGLine(`{sr:{stat:5,posx:10.1,posy:0,posz:0,vel:500,line:12}}`)
	if ev.Kind != KindStatusReport {
		t.Fatalf("got kind %v, want KindStatusReport", ev.Kind)
	}
	sr := ev.Status
	if sr.State != "Run" {
		t.Fatalf("got state %q, want Run", sr.State)
	}
	if len(sr.WPos) != 3 || sr.WPos[0] != 10.1 {
		t.Fatalf("got wpos %v", sr.WPos)
	}
	if sr.Feed == nil || *sr.Feed != 500 {
		t.Fatalf("got feed %v", sr.Feed)
	}
	if sr.Line == nil || *sr.Line != 12 {
		t.Fatalf("got line %v", sr.Line)
	}
}

func TestParseTinyGLineQueueReport(t *testing.T) {
	ev := ParseTinyGLine(`{qr:28,qi:0,qo:1}`)
	if ev.Kind != KindQueueReport {
		t.Fatalf("got kind %v, want KindQueueReport", ev.Kind)
	}
	if ev.Queue.QR != 28 || ev.Queue.QO != 1 {
		t.Fatalf("got queue %#v", ev.Queue)
	}
}

func TestParseTinyGLineProbeReport(t *testing.T) {
	ev := ParseTinyGLine(`{prb:{x:10,y:0,z:-3.5,e:1}}`)
	if ev.Kind != KindProbeReport {
		t.Fatalf("got kind %v, want KindProbeReport", ev.Kind)
	}
	if !ev.Probe.Tripped {
		t.Fatalf("want tripped=true")
	}
	if len(ev.Probe.Pos) != 3 || ev.Probe.Pos[2] != -3.5 {
		t.Fatalf("got pos %v", ev.Probe.Pos)
	}
}

func TestParseTinyGLineG54Parameter(t *testing.T) {
	ev := ParseTinyGLine(`{g54:{x:0,y:0,z:0}}`)
	if ev.Kind != KindParameter {
		t.Fatalf("got kind %v, want KindParameter", ev.Kind)
	}
	if ev.ParamName != "g54" {
		t.Fatalf("got param name %q, want g54", ev.ParamName)
	}
}

func TestParseTinyGLineUnknownOnGarbage(t *testing.T) {
	ev := ParseTinyGLine(`not json at all`)
	if ev.Kind != KindUnknown {
		t.Fatalf("got kind %v, want KindUnknown", ev.Kind)
	}
}

func TestFormatTinyGRequest(t *testing.T) {
	got := FormatTinyGRequest(map[string]any{"gc": "G0 X10"})
	want := `{gc:"G0 X10"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
