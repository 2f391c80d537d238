// Package pipeline implements the per-connection reader: it parses
// newline-terminated JSON frames off the wire and dispatches decoded
// frames to a Sink. It holds no broker state of its own.
package pipeline

import (
	"bufio"
	"bytes"
	"net"

	"github.com/lora-sim/broker/internal/protocol"
	"github.com/lora-sim/broker/internal/registry"
)

// Sink receives the frames a connection's reader decodes. Implementations
// own all broker-side state; pipeline only drives the parse loop.
type Sink interface {
	OnRegister(conn net.Conn, connID string, nodeID int, loc registry.Location)
	OnTx(nodeID int, tx protocol.TxFrame)
	OnUnregisteredTx(connID string)
	OnMalformed(connID string, raw []byte, err error)
	OnDisconnect(nodeID int, registered bool, conn net.Conn, connID string)
}

const maxLineBytes = 1 << 20

// Run reads frames from conn until EOF or a read error, dispatching each
// to sink, and reports the disconnect when the loop ends. It returns once
// the connection is no longer readable; callers are responsible for
// calling it in its own goroutine.
func Run(conn net.Conn, connID string, codec *protocol.Codec, sink Sink) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var nodeID int
	registered := false

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		decoded, err := codec.Decode(line)
		if err != nil {
			sink.OnMalformed(connID, line, err)
			continue
		}

		switch decoded.Type {
		case protocol.TypeRegister:
			nodeID = decoded.Register.NodeID
			registered = true
			sink.OnRegister(conn, connID, nodeID, registry.Location{
				X: decoded.Register.Location[0],
				Y: decoded.Register.Location[1],
			})
		case protocol.TypeTx:
			if !registered {
				sink.OnUnregisteredTx(connID)
				continue
			}
			sink.OnTx(nodeID, *decoded.Tx)
		}
	}

	sink.OnDisconnect(nodeID, registered, conn, connID)
}
