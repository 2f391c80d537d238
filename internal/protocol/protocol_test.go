package protocol

import (
	"strings"
	"testing"
)

func TestCodec_DecodeRegister(t *testing.T) {
	c := NewCodec()
	d, err := c.Decode([]byte(`{"type":"register","node_id":1,"location":[0,0]}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Type != TypeRegister {
		t.Fatalf("Type = %q, want %q", d.Type, TypeRegister)
	}
	if d.Register.NodeID != 1 {
		t.Errorf("NodeID = %d, want 1", d.Register.NodeID)
	}
	if d.Register.Location != [2]float64{0, 0} {
		t.Errorf("Location = %v, want [0 0]", d.Register.Location)
	}
}

func TestCodec_DecodeTx(t *testing.T) {
	c := NewCodec()
	d, err := c.Decode([]byte(`{"type":"tx","from":1,"data":"hello","meta":{"destination":2,"sf":9}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Type != TypeTx {
		t.Fatalf("Type = %q, want %q", d.Type, TypeTx)
	}
	if d.Tx.From != 1 || d.Tx.Data != "hello" {
		t.Errorf("got From=%d Data=%q", d.Tx.From, d.Tx.Data)
	}
	if d.Tx.Meta.Int("destination", -1) != 2 {
		t.Errorf("meta.destination = %v", d.Tx.Meta["destination"])
	}
}

func TestCodec_DecodeUnknownType(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode([]byte(`{"type":"ping"}`)); err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestCodec_DecodeMalformed(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestCodec_EncodeRx(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeRx(RxFrame{Data: "hi", RSSI: -40, SNR: 8, Meta: Meta{"from": 1}})
	if err != nil {
		t.Fatalf("EncodeRx() error = %v", err)
	}
	s := string(out)
	if !strings.HasSuffix(s, "\n") {
		t.Error("EncodeRx output should be newline-terminated")
	}
	if !strings.Contains(s, `"type":"rx"`) {
		t.Errorf("EncodeRx output missing type field: %s", s)
	}
}

func TestResolve_Defaults(t *testing.T) {
	r := Resolve(nil, 10)
	if r.TxPower != 23 {
		t.Errorf("TxPower = %d, want 23", r.TxPower)
	}
	if r.SF != 7 {
		t.Errorf("SF = %d, want 7", r.SF)
	}
	if r.Frequency != 915.0 {
		t.Errorf("Frequency = %v, want 915.0", r.Frequency)
	}
	if r.Weather != "clear" || r.Obstacle != "open" {
		t.Errorf("got Weather=%q Obstacle=%q", r.Weather, r.Obstacle)
	}
	if r.PayloadBytes != 10 {
		t.Errorf("PayloadBytes = %d, want 10 (data length)", r.PayloadBytes)
	}
	if r.Destination != nil {
		t.Errorf("Destination = %v, want nil", r.Destination)
	}
	if r.Broadcast {
		t.Error("Broadcast should default to false")
	}
}

func TestResolve_SFClamped(t *testing.T) {
	if r := Resolve(Meta{"sf": float64(20)}, 0); r.SF != 12 {
		t.Errorf("SF = %d, want clamped to 12", r.SF)
	}
	if r := Resolve(Meta{"sf": float64(2)}, 0); r.SF != 7 {
		t.Errorf("SF = %d, want clamped to 7", r.SF)
	}
}

func TestResolve_DestinationAndBroadcast(t *testing.T) {
	r := Resolve(Meta{"destination": float64(5)}, 0)
	if r.Destination == nil || *r.Destination != 5 {
		t.Errorf("Destination = %v, want 5", r.Destination)
	}

	r = Resolve(Meta{"broadcast": true}, 0)
	if !r.Broadcast {
		t.Error("Broadcast should be true")
	}
}

func FuzzCodec_Decode(f *testing.F) {
	f.Add([]byte(`{"type":"register","node_id":1,"location":[0,0]}`))
	f.Add([]byte(`{"type":"tx","from":1,"data":"x","meta":{}}`))
	f.Add([]byte(`{"type":"tx"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`not json at all`))

	c := NewCodec()
	f.Fuzz(func(t *testing.T, data []byte) {
		d, err := c.Decode(data)
		if err != nil {
			return
		}
		switch d.Type {
		case TypeRegister:
			if d.Register == nil {
				t.Fatal("Register is nil despite Type == register")
			}
		case TypeTx:
			if d.Tx == nil {
				t.Fatal("Tx is nil despite Type == tx")
			}
		default:
			t.Fatalf("unexpected decoded type %q", d.Type)
		}
	})
}
