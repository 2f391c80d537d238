// Package protocol implements the broker's newline-delimited JSON wire format.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators, as carried in every frame's "type" field.
const (
	TypeRegister = "register"
	TypeTx       = "tx"
	TypeRx       = "rx"
)

var (
	ErrMalformed        = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// RegisterFrame announces a node's presence and fixed location.
type RegisterFrame struct {
	Type     string     `json:"type"`
	NodeID   int        `json:"node_id"`
	Location [2]float64 `json:"location"`
}

// TxFrame carries an outbound transmission from a registered node.
type TxFrame struct {
	Type string `json:"type"`
	From int    `json:"from"`
	Data string `json:"data"`
	Meta Meta   `json:"meta,omitempty"`
}

// RxFrame carries a delivered transmission to a recipient, annotated with
// the channel effects the broker computed for that link.
type RxFrame struct {
	Type string  `json:"type"`
	Data string  `json:"data"`
	RSSI float64 `json:"rssi"`
	SNR  float64 `json:"snr"`
	Meta Meta    `json:"meta"`
}

// Meta holds the free-form tx options table. Unrecognized keys are kept
// verbatim and echoed back on delivery; recognized keys are read through
// the typed accessors below with spec-defined defaults.
type Meta map[string]interface{}

func (m Meta) Int(key string, def int) int {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func (m Meta) Float(key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func (m Meta) String(key string, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func (m Meta) Bool(key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// ResolvedMeta is the tx options table with every recognized key defaulted.
type ResolvedMeta struct {
	Destination  *int
	Broadcast    bool
	TxPower      int
	SF           int
	Frequency    float64
	AQI          int
	Weather      string
	Obstacle     string
	CodingRate   int
	Preamble     int
	PayloadBytes int
}

// Resolve applies the recognized-key defaults to a tx frame's meta table.
func Resolve(m Meta, dataLen int) ResolvedMeta {
	r := ResolvedMeta{
		Broadcast:    m.Bool("broadcast", false),
		TxPower:      m.Int("tx_power", 23),
		SF:           clampSF(m.Int("sf", 7)),
		Frequency:    m.Float("frequency", 915.0),
		AQI:          m.Int("aqi", 50),
		Weather:      m.String("weather", "clear"),
		Obstacle:     m.String("obstacle", "open"),
		CodingRate:   m.Int("coding_rate", 1),
		Preamble:     m.Int("preamble", 8),
		PayloadBytes: m.Int("payload_bytes", dataLen),
	}
	if v, ok := m["destination"]; ok && v != nil {
		if f, ok := v.(float64); ok {
			d := int(f)
			r.Destination = &d
		}
	}
	return r
}

func clampSF(sf int) int {
	if sf < 7 {
		return 7
	}
	if sf > 12 {
		return 12
	}
	return sf
}

// Decoded is the result of decoding one line of input; exactly one of
// Register or Tx is populated, matching Type.
type Decoded struct {
	Type     string
	Register *RegisterFrame
	Tx       *TxFrame
}

// Codec decodes incoming frame lines and encodes outgoing rx frames.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Decode(line []byte) (*Decoded, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch head.Type {
	case TypeRegister:
		var f RegisterFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Decoded{Type: TypeRegister, Register: &f}, nil
	case TypeTx:
		var f TxFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Decoded{Type: TypeTx, Tx: &f}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, head.Type)
	}
}

// EncodeRx serializes an rx frame as a single newline-terminated JSON line.
func (c *Codec) EncodeRx(f RxFrame) ([]byte, error) {
	f.Type = TypeRx
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
