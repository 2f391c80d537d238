// Package propagation implements the broker's pure radio-link formulas:
// free-space path loss, environmental loss, RSSI, SNR, airtime, and delay.
// Every function here is stateless aside from the RNG draws it takes as a
// parameter; none of it touches broker state or I/O.
package propagation

import "math"

const (
	epsilonDistance = 1e-6
	bandwidthHz     = 125000.0
	noiseFigure     = 6.0
)

// SFSensitivity is the minimum viable RSSI per spreading factor, dBm.
var SFSensitivity = map[int]float64{
	7: -123, 8: -126, 9: -129, 10: -132, 11: -134.5, 12: -137,
}

// SNRRange is an inclusive (min, max) SNR window in dB.
type SNRRange struct {
	Min, Max float64
}

// SFSNRRanges is the viable SNR window per spreading factor, dB.
var SFSNRRanges = map[int]SNRRange{
	7:  {-7.5, 10},
	8:  {-10, 9},
	9:  {-12.5, 8},
	10: {-15, 7},
	11: {-17.5, 6},
	12: {-20, 5},
}

// SFMaxRangeKM is the maximum usable link distance per spreading factor, km.
var SFMaxRangeKM = map[int]float64{
	7: 5, 8: 8, 9: 12, 10: 16, 11: 20, 12: 25,
}

// WeatherAttenDBPerKM is the per-km attenuation contributed by weather.
var WeatherAttenDBPerKM = map[string]float64{
	"clear": 0, "fog": 0.02, "light-rain": 0.05, "moderate-rain": 0.10, "heavy-rain": 0.20,
}

// ObstacleLossDB is the fixed penetration loss per obstacle key; unknown
// keys contribute 0 dB.
var ObstacleLossDB = map[string]float64{
	"glass_6mm": 0.8, "glass_13mm": 2, "wood_76mm": 2.8,
	"brick_89mm": 3.5, "brick_102mm": 5, "brick_178mm": 7,
	"brick_267mm": 12, "stone_wall_203mm": 12, "brick_concrete_192mm": 14,
	"stone_wall_406mm": 17, "concrete_203mm": 23, "reinforced_concrete_89mm": 27,
	"stone_wall_610mm": 28, "concrete_305mm": 35, "open": 0,
}

// ClampSF clamps a spreading factor into the supported 7..12 range.
func ClampSF(sf int) int {
	if sf < 7 {
		return 7
	}
	if sf > 12 {
		return 12
	}
	return sf
}

// RNG supplies the uniform draws the model needs. Source is the broker's
// concrete implementation; tests may substitute a fixed-sequence stub.
type RNG interface {
	Float64() float64
}

// Input is everything the model needs to evaluate one sender/receiver link.
type Input struct {
	Distance     float64 // km
	Frequency    float64 // MHz
	SF           int
	TxPower      int // dBm
	AQI          int
	Weather      string
	Obstacle     string
	CodingRate   int
	Preamble     int
	PayloadBytes int
}

// Output is the modeled outcome of one link evaluation.
type Output struct {
	RSSI      float64
	SNR       float64
	AirtimeMs float64
	DelayMs   float64
}

// Compute evaluates the full propagation model for one frame on one link,
// drawing exactly three independent uniform samples from rng in order:
// RSSI multipath fading, SNR fading, and delay jitter.
func Compute(in Input, rng RNG) Output {
	sf := ClampSF(in.SF)
	d := in.Distance
	if d < 0 {
		d = 0
	}
	freq := in.Frequency
	if freq <= 0 {
		freq = epsilonDistance
	}

	fspl := 32.45 + 20*math.Log10(math.Max(d, epsilonDistance)) + 20*math.Log10(freq)

	weatherAtten := WeatherAttenDBPerKM[in.Weather]
	obstacleLoss := ObstacleLossDB[in.Obstacle]

	envLoss := 0.0
	if in.AQI > 50 {
		envLoss += math.Pow(float64(in.AQI-50)/50, 1.5) * 0.5 * d * (1 - 0.02*float64(sf-7))
	}
	envLoss += weatherAtten * d
	envLoss += obstacleLoss * (1 - 0.025*float64(sf-7))
	if d > 1 {
		envLoss += math.Log(d+1) * 3 * (1 - 0.03*float64(sf-7))
	}

	fadeRange := 2.5 - 0.2*float64(sf-7)
	multipath := uniform(rng, -fadeRange, fadeRange)
	envLoss += multipath

	if d < 0.01 {
		envLoss += 15 * (1 - d/0.01)
	}

	rssi := float64(in.TxPower) - (fspl + envLoss)

	noiseFloor := -174 + 10*math.Log10(bandwidthHz) + noiseFigure
	urban := 1.0
	if d < 5 {
		urban = 3 - 0.4*d
	}
	effectiveNoise := noiseFloor + urban

	pg := 10 * math.Log10(math.Pow(2, float64(sf)))
	decay := (0.45 - 0.025*float64(sf-7)) * d

	fading := uniform(rng, -fadeRange, fadeRange)
	snr := rssi - effectiveNoise + 0.5*pg - decay + fading

	snrRange := SFSNRRanges[sf]
	if snr > snrRange.Max {
		snr = snrRange.Max
	}

	airtimeMs := Airtime(sf, in.CodingRate, in.Preamble, in.PayloadBytes)
	delayMs := Delay(airtimeMs, snr, sf, in.Weather, in.Obstacle, d, rng)

	return Output{RSSI: rssi, SNR: snr, AirtimeMs: airtimeMs, DelayMs: delayMs}
}

// Airtime implements the Semtech time-on-air formula for one frame.
func Airtime(sf, codingRate, preamble, payloadBytes int) float64 {
	tSym := math.Pow(2, float64(sf)) / bandwidthHz

	de := 0.0
	if sf >= 11 {
		de = 1
	}
	const ih = 0.0

	numer := 8*float64(payloadBytes) - 4*float64(sf) + 28 + 16 - 20*ih
	denom := 4 * (float64(sf) - 2*de)
	nPayload := 8 + math.Max(math.Ceil(numer/denom)*float64(codingRate+4), 0)

	return (float64(preamble) + 4.25 + nPayload) * tSym * 1000
}

// Delay implements the full per-frame delay model: airtime plus the SNR
// penalty, environmental delay, hardware delay, and jitter terms.
func Delay(airtimeMs, snr float64, sf int, weather, obstacle string, d float64, rng RNG) float64 {
	snrRange := SFSNRRanges[sf]
	const maxMs = 30.0
	const k = 1.5
	mid := snrRange.Min + (snrRange.Max-snrRange.Min)/3
	snrPenalty := maxMs / (1 + math.Exp(k*(snr-mid)))

	weatherFactor := WeatherAttenDBPerKM[weather]
	obstacleLoss := ObstacleLossDB[obstacle]
	envDelay := weatherFactor*d*5 + obstacleLoss*0.5

	hwDelay := (2 + 1.5*float64(sf-7)) * (1 + 0.05*weatherFactor + 0.01*obstacleLoss)

	sfScale := float64(sf) / 7
	jitter := uniform(rng, 0.5*sfScale, 3*sfScale)

	return airtimeMs + snrPenalty + envDelay + hwDelay + jitter
}

func uniform(rng RNG, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
