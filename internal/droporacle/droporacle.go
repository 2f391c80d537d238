// Package droporacle decides whether a modeled frame is delivered or
// dropped, and if dropped, why. It is stateless aside from the counters
// the caller supplies and the RNG draw for the probabilistic decision.
package droporacle

import (
	"math"

	"github.com/lora-sim/broker/internal/propagation"
)

// Reason names a drop cause, or is empty when the frame is delivered.
type Reason string

const (
	ReasonLowRSSI      Reason = "LOW_RSSI"
	ReasonLowSNR       Reason = "LOW_SNR"
	ReasonOutOfRange   Reason = "OUT_OF_RANGE"
	ReasonCollision    Reason = "COLLISION"
	ReasonCongestion   Reason = "CONGESTION"
	ReasonStreak       Reason = "STREAK"
	ReasonSNRMargin    Reason = "SNR_MARGIN"
	ReasonRSSIMargin   Reason = "RSSI_MARGIN"
	ReasonInterference Reason = "INTERFERENCE"
	ReasonPeerGone     Reason = "PEER_GONE"
	ReasonUnregistered Reason = "UNREGISTERED"
	ReasonNoRoute      Reason = "NO_ROUTE"
)

const (
	maxInflight      = 10
	collisionGuardMs = 5.0
	maxPDrop         = 0.98
)

// RNG supplies the uniform draw for the probabilistic decision.
type RNG interface {
	Float64() float64
}

// Input is the propagation outcome plus the broker counters the oracle
// weighs; SinceLastDeliveryMs is negative when the receiver has never had
// a successful delivery.
type Input struct {
	RSSI                 float64
	SNR                  float64
	Distance             float64
	SF                   int
	Active               int64
	ConcurrentSF         int64
	LossStreak           int
	SinceLastDeliveryMs float64
}

// Decision is the oracle's verdict for one sender/receiver link.
type Decision struct {
	Dropped bool
	Reason  Reason
	PDrop   float64
}

// Evaluate runs the hard-drop checks, then the probabilistic model, and
// draws from rng only if no hard drop applies.
func Evaluate(in Input, rng RNG) Decision {
	sf := propagation.ClampSF(in.SF)
	sensitivity := propagation.SFSensitivity[sf]
	snrRange := propagation.SFSNRRanges[sf]
	maxRange := propagation.SFMaxRangeKM[sf]

	if in.RSSI < sensitivity {
		return Decision{Dropped: true, Reason: ReasonLowRSSI, PDrop: 1}
	}
	if in.SNR < snrRange.Min {
		return Decision{Dropped: true, Reason: ReasonLowSNR, PDrop: 1}
	}
	if in.Distance > maxRange {
		return Decision{Dropped: true, Reason: ReasonOutOfRange, PDrop: 1}
	}
	if in.SinceLastDeliveryMs >= 0 && in.SinceLastDeliveryMs < collisionGuardMs {
		return Decision{Dropped: true, Reason: ReasonCollision, PDrop: 1}
	}

	pCongestion := math.Max(0, float64(in.Active-maxInflight)/maxInflight)
	pCongestion = pCongestion * pCongestion

	pStreak := math.Min(0.5, 0.05*float64(in.LossStreak))

	sfFactor := float64(sf - 5)
	pSNR := clamp(math.Exp(-(in.SNR-snrRange.Min)/sfFactor), 0, 0.8)

	pRSSI := clamp((sensitivity+3-in.RSSI)/6, 0, 0.6)

	pInterference := math.Min(0.7, 0.1*float64(in.ConcurrentSF-1))
	if pInterference < 0 {
		pInterference = 0
	}

	pDrop := math.Min(pCongestion+pStreak+pSNR+pRSSI+pInterference, maxPDrop)

	if rng.Float64() >= pDrop {
		return Decision{Dropped: false, PDrop: pDrop}
	}

	return Decision{Dropped: true, Reason: attribute(pCongestion, pStreak, pSNR, pRSSI, pInterference), PDrop: pDrop}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// attribute picks the largest probabilistic contributor, breaking ties by
// the order the components are listed in the oracle's design.
func attribute(pCongestion, pStreak, pSNR, pRSSI, pInterference float64) Reason {
	best := ReasonCongestion
	bestVal := pCongestion

	for _, c := range []struct {
		val    float64
		reason Reason
	}{
		{pStreak, ReasonStreak},
		{pSNR, ReasonSNRMargin},
		{pRSSI, ReasonRSSIMargin},
		{pInterference, ReasonInterference},
	} {
		if c.val > bestVal {
			bestVal = c.val
			best = c.reason
		}
	}
	return best
}
