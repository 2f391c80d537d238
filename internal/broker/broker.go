// Package broker wires the registry, in-flight tracker, propagation
// model, drop oracle, and delivery scheduler into the running TCP server:
// the single Broker value every connection's tasks share, per the
// concurrency discipline each of those packages implements internally.
package broker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lora-sim/broker/internal/droporacle"
	"github.com/lora-sim/broker/internal/events"
	"github.com/lora-sim/broker/internal/inflight"
	"github.com/lora-sim/broker/internal/logging"
	"github.com/lora-sim/broker/internal/metrics"
	"github.com/lora-sim/broker/internal/pipeline"
	"github.com/lora-sim/broker/internal/propagation"
	"github.com/lora-sim/broker/internal/protocol"
	"github.com/lora-sim/broker/internal/registry"
	"github.com/lora-sim/broker/internal/rng"
	"github.com/lora-sim/broker/internal/scheduler"
)

// WriteTimeout is how long a single delivery write may take before the
// receiver is treated as PEER_GONE.
const WriteTimeout = 2 * time.Second

// Config holds everything needed to construct a Broker.
type Config struct {
	ListenAddr string
	Logger     *logging.Logger
	Emitter    events.Emitter // defaults to events.NopEmitter{} if nil
	Metrics    *metrics.Metrics // optional; nil disables metrics
	RNG        *rng.Source      // defaults to an unseeded source if nil
}

// Broker is the virtual RF medium: one instance serves every connected
// node for the lifetime of the process.
type Broker struct {
	listenAddr string
	logger     *logging.Logger
	emitter    events.Emitter
	metrics    *metrics.Metrics
	rng        *rng.Source

	registry  *registry.Registry
	inflight  *inflight.Tracker
	scheduler *scheduler.Manager
	codec     *protocol.Codec

	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a Broker from cfg, applying defaults for anything optional.
func New(cfg Config) (*Broker, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	source := cfg.RNG
	if source == nil {
		source = rng.NewRandom()
	}

	return &Broker{
		listenAddr: cfg.ListenAddr,
		logger:     cfg.Logger,
		emitter:    emitter,
		metrics:    cfg.Metrics,
		rng:        source,
		registry:   registry.New(),
		inflight:   inflight.New(),
		scheduler:  scheduler.NewManager(),
		codec:      protocol.NewCodec(),
	}, nil
}

// Run binds the listener and serves connections until ctx is canceled or
// an unrecoverable listener error occurs. It installs its own SIGINT/
// SIGTERM handler so a standalone broker process shuts down gracefully.
func (b *Broker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			b.logger.Info("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", b.listenAddr, err)
	}
	b.listener = ln
	b.logger.Info("listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		b.shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				b.wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.serve(conn)
		}()
	}
}

// shutdown closes the listener and every currently registered connection,
// unblocking each connection's reader so its goroutine can exit.
func (b *Broker) shutdown() {
	if b.listener != nil {
		b.listener.Close()
	}
	for _, rec := range b.registry.All() {
		rec.Conn.Close()
	}
}

func (b *Broker) serve(conn net.Conn) {
	connID := uuid.NewString()
	pipeline.Run(conn, connID, b.codec, b)
}

// OnRegister implements pipeline.Sink.
func (b *Broker) OnRegister(conn net.Conn, connID string, nodeID int, loc registry.Location) {
	prevConn, replaced := b.registry.Register(nodeID, loc, conn)
	if replaced && prevConn != nil && prevConn != conn {
		prevConn.Close()
	}

	b.logger.Info("REGISTER node=%d location=(%.3f,%.3f) conn=%s", nodeID, loc.X, loc.Y, connID)
	b.emitter.Emit(events.EventNodeRegistered, events.NodeRegisteredData{
		NodeID: nodeID, X: loc.X, Y: loc.Y, SourceID: connID,
	})
	if b.metrics != nil {
		b.metrics.SetRegisteredNodes(b.registry.Count())
	}
}

// OnTx implements pipeline.Sink: the frame pipeline's per-tx entry point.
func (b *Broker) OnTx(from int, tx protocol.TxFrame) {
	meta := protocol.Resolve(tx.Meta, len(tx.Data))

	for _, rec := range b.resolveRecipients(from, meta) {
		b.processDelivery(from, rec, tx, meta)
	}
}

func (b *Broker) resolveRecipients(from int, meta protocol.ResolvedMeta) []*registry.Record {
	if meta.Broadcast || meta.Destination == nil {
		return b.registry.ListExcept(from)
	}
	rec, ok := b.registry.Lookup(*meta.Destination)
	if !ok {
		b.logger.Debug("NO_ROUTE from=%d to=%d", from, *meta.Destination)
		return nil
	}
	return []*registry.Record{rec}
}

// processDelivery computes the propagation outcome and drop decision for
// one recipient, then either records the drop or hands the frame to the
// scheduler. Steps 2-5 of the frame pipeline.
func (b *Broker) processDelivery(from int, rec *registry.Record, tx protocol.TxFrame, meta protocol.ResolvedMeta) {
	fromLoc := registry.Location{}
	if fromRec, ok := b.registry.Lookup(from); ok {
		fromLoc = fromRec.Location
	}
	distance := fromLoc.Distance(rec.Location)

	out := propagation.Compute(propagation.Input{
		Distance:     distance,
		Frequency:    meta.Frequency,
		SF:           meta.SF,
		TxPower:      meta.TxPower,
		AQI:          meta.AQI,
		Weather:      meta.Weather,
		Obstacle:     meta.Obstacle,
		CodingRate:   meta.CodingRate,
		Preamble:     meta.Preamble,
		PayloadBytes: meta.PayloadBytes,
	}, b.rng)

	sf := propagation.ClampSF(meta.SF)

	b.inflight.IncrementActive()
	b.inflight.IncrementSF(sf)
	b.reportCounters(sf)

	sinceLast := -1.0
	if lastAt, ok := b.inflight.LastDeliveryAt(rec.NodeID); ok {
		sinceLast = float64(time.Since(lastAt)) / float64(time.Millisecond)
	}

	decision := droporacle.Evaluate(droporacle.Input{
		RSSI:                 out.RSSI,
		SNR:                  out.SNR,
		Distance:             distance,
		SF:                   sf,
		Active:               b.inflight.ActiveCount(),
		ConcurrentSF:         b.inflight.ConcurrentSF(sf),
		LossStreak:           b.inflight.LossStreak(from, rec.NodeID),
		SinceLastDeliveryMs: sinceLast,
	}, b.rng)

	if decision.Dropped {
		b.inflight.RecordDrop(from, rec.NodeID)
		b.inflight.DecrementActive()
		b.inflight.DecrementSF(sf)
		b.reportCounters(sf)

		if b.metrics != nil {
			b.metrics.ObserveDrop(string(decision.Reason))
		}
		b.logger.Warn("DROPPED from=%d to=%d sf=%d rssi=%.2f snr=%.2f reason=%s", from, rec.NodeID, sf, out.RSSI, out.SNR, decision.Reason)
		b.emitter.Emit(events.EventFrameDropped, events.FrameDroppedData{
			From: from, To: rec.NodeID, SF: sf, Reason: string(decision.Reason),
		})
		return
	}

	deadline := time.Now().Add(time.Duration(out.DelayMs * float64(time.Millisecond)))
	frame := b.buildRxFrame(from, tx, meta, out)
	receiver := rec

	b.scheduler.Schedule(receiver.NodeID, deadline, func() {
		b.deliver(from, receiver, frame, sf, out)
	})
}

// deliver is the scheduled write: §4.5 of the delivery scheduler.
func (b *Broker) deliver(from int, rec *registry.Record, frame protocol.RxFrame, sf int, out propagation.Output) {
	payload, err := b.codec.EncodeRx(frame)
	if err != nil {
		b.logger.Error("encode rx frame for node=%d: %v", rec.NodeID, err)
		b.releaseCounters(sf)
		return
	}

	if deadliner, ok := rec.Conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadliner.SetWriteDeadline(time.Now().Add(WriteTimeout))
	}
	_, writeErr := rec.Conn.Write(payload)

	if writeErr != nil {
		b.logger.Warn("PEER_GONE to=%d: %v", rec.NodeID, writeErr)
		b.emitter.Emit(events.EventFrameDropped, events.FrameDroppedData{
			From: from, To: rec.NodeID, SF: sf, Reason: string(droporacle.ReasonPeerGone),
		})
		if b.metrics != nil {
			b.metrics.ObserveDrop(string(droporacle.ReasonPeerGone))
		}
		b.releaseCounters(sf)
		b.registry.Remove(rec.NodeID, rec.Conn)
		return
	}

	now := time.Now()
	b.inflight.RecordDelivery(from, rec.NodeID, now)
	b.releaseCounters(sf)

	if b.metrics != nil {
		b.metrics.ObserveDelivery()
	}
	b.logger.Info("DELIVERED from=%d to=%d sf=%d rssi=%.2f snr=%.2f delay_ms=%.2f", from, rec.NodeID, sf, out.RSSI, out.SNR, out.DelayMs)
	b.emitter.Emit(events.EventFrameDelivered, events.FrameDeliveredData{
		From: from, To: rec.NodeID, SF: sf, RSSI: out.RSSI, SNR: out.SNR, DelayMs: out.DelayMs,
	})
}

func (b *Broker) releaseCounters(sf int) {
	b.inflight.DecrementActive()
	b.inflight.DecrementSF(sf)
	b.reportCounters(sf)
}

func (b *Broker) reportCounters(sf int) {
	if b.metrics == nil {
		return
	}
	b.metrics.SetActive(b.inflight.ActiveCount())
	b.metrics.SetConcurrentSF(sf, b.inflight.ConcurrentSF(sf))
}

func (b *Broker) buildRxFrame(from int, tx protocol.TxFrame, meta protocol.ResolvedMeta, out propagation.Output) protocol.RxFrame {
	m := protocol.Meta{}
	for k, v := range tx.Meta {
		m[k] = v
	}
	m["from"] = from
	m["sf"] = meta.SF
	if meta.Destination != nil {
		m["destination"] = *meta.Destination
	} else {
		m["destination"] = nil
	}

	return protocol.RxFrame{
		Data: tx.Data,
		RSSI: out.RSSI,
		SNR:  out.SNR,
		Meta: m,
	}
}

// OnUnregisteredTx implements pipeline.Sink.
func (b *Broker) OnUnregisteredTx(connID string) {
	b.logger.Debug("UNREGISTERED tx discarded conn=%s", connID)
}

// OnMalformed implements pipeline.Sink.
func (b *Broker) OnMalformed(connID string, raw []byte, err error) {
	b.logger.Debug("malformed frame conn=%s: %v", connID, err)
}

// OnDisconnect implements pipeline.Sink.
func (b *Broker) OnDisconnect(nodeID int, registered bool, conn net.Conn, connID string) {
	if registered {
		b.registry.Remove(nodeID, conn)
		b.logger.Info("DISCONNECT node=%d conn=%s", nodeID, connID)
		b.emitter.Emit(events.EventNodeDisconnected, events.NodeDisconnectedData{NodeID: nodeID, SourceID: connID})
		if b.metrics != nil {
			b.metrics.SetRegisteredNodes(b.registry.Count())
		}
	}
	conn.Close()
}

// RegisteredCount reports the current registry size, mainly for tests and
// operational introspection.
func (b *Broker) RegisteredCount() int { return b.registry.Count() }
