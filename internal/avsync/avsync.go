package avsync

import (
	"fmt"
	"math"
	"sort"
)

// DecisionKind is the single primary correction the engine emits.
type DecisionKind string

const (
	DecisionNone    DecisionKind = "none"
	DecisionDelay   DecisionKind = "delay"
	DecisionStretch DecisionKind = "stretch"
	DecisionTrim    DecisionKind = "trim"
	DecisionPad     DecisionKind = "pad"
	DecisionReject  DecisionKind = "reject"
)

// Reject reasons.
const (
	ReasonLowConfidence     = "low-confidence"
	ReasonMixedSymptoms     = "mixed-symptoms"
	ReasonStretchOutOfRange = "stretch-out-of-range"
)

// AnchorPoint is one video/audio timestamp correspondence used as evidence.
type AnchorPoint struct {
	VideoMs    float64 `json:"video_ms"`
	AudioMs    float64 `json:"audio_ms"`
	Confidence float64 `json:"confidence"`
}

// Region is a trim region in milliseconds.
type Region struct {
	StartMs float64 `json:"start_ms"`
	EndMs   float64 `json:"end_ms"`
}

// Measurements is everything the measurement oracle reports for one asset
// pair. The engine is pure over these inputs.
type Measurements struct {
	VideoDurationSec float64
	AudioDurationSec float64

	// Leading/trailing silence available for trim decisions.
	StartSilenceMs float64
	EndSilenceMs   float64

	Anchors []AnchorPoint

	// Multi-point offsets, positive meaning audio lags video.
	StartOffsetMs  float64
	MiddleOffsetMs float64
	EndOffsetMs    float64
	DriftMsPerSec  float64

	// Per-method start-anchor offsets (cross-correlation, peak matching,
	// fingerprinting). Two methods must agree within 50 ms for the
	// measurement to be admissible; when the oracle supplies no breakdown
	// the aggregate confidence gates admissibility instead.
	MethodStartOffsets map[string]float64

	Confidence float64
}

// Decision is the engine's bounded correction plan, or a rejection.
type Decision struct {
	Decision     DecisionKind `json:"decision"`
	OffsetMs     float64      `json:"offset_ms,omitempty"`
	StretchRatio float64      `json:"stretch_ratio,omitempty"`
	TrimRegions  []Region     `json:"trim_regions,omitempty"`
	Confidence   float64      `json:"confidence"`
	Reason       string       `json:"reason,omitempty"`
	Rationale    string       `json:"rationale"`
}

// Thresholds bound what the engine is willing to correct.
type Thresholds struct {
	InSyncMs         float64
	MinorMs          float64
	ModerateMs       float64
	SevereMs         float64
	DriftSignificant float64 // ms of drift per second
	ConfidenceFloor  float64
	MethodAgreeMs    float64
	StretchMin       float64
	StretchMax       float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		InSyncMs:         40,
		MinorMs:          100,
		ModerateMs:       300,
		SevereMs:         1000,
		DriftSignificant: 2,
		ConfidenceFloor:  0.70,
		MethodAgreeMs:    50,
		StretchMin:       0.97,
		StretchMax:       1.03,
	}
}

// Engine turns measurements into a single bounded correction. It never
// compounds corrections: mixed symptoms are refused outright.
type Engine struct {
	t Thresholds
}

func NewEngine(t Thresholds) *Engine {
	return &Engine{t: t}
}

// Decide runs the decision procedure over the measurements.
func (e *Engine) Decide(m Measurements) Decision {
	if !e.admissible(m) {
		return Decision{
			Decision:   DecisionReject,
			Confidence: m.Confidence,
			Reason:     ReasonLowConfidence,
			Rationale:  "measurement methods disagree at start anchor; same-duration does not imply sync and single-method evidence is inadmissible",
		}
	}

	median := median3(m.StartOffsetMs, m.MiddleOffsetMs, m.EndOffsetMs)
	maxAbs := math.Max(math.Abs(m.StartOffsetMs),
		math.Max(math.Abs(m.MiddleOffsetMs), math.Abs(m.EndOffsetMs)))

	driftRate := 0.0
	if m.VideoDurationSec > 0 {
		driftRate = math.Abs(m.StartOffsetMs-m.EndOffsetMs) / m.VideoDurationSec
	}
	drifting := driftRate >= e.t.DriftSignificant

	if !drifting && maxAbs <= e.t.InSyncMs {
		return Decision{
			Decision:   DecisionNone,
			Confidence: m.Confidence,
			Rationale:  fmt.Sprintf("all offsets within %.0f ms and drift %.2f ms/s insignificant", e.t.InSyncMs, driftRate),
		}
	}

	if drifting {
		// A drifting track with a severe constant component on top cannot
		// be fixed by one correction.
		if math.Abs(median) > e.t.SevereMs || !signsAgree(m.StartOffsetMs, m.EndOffsetMs) {
			return Decision{
				Decision:   DecisionReject,
				Confidence: m.Confidence,
				Reason:     ReasonMixedSymptoms,
				Rationale:  "drift and constant offset both present; refusing to compound corrections",
			}
		}
		return e.stretch(m, driftRate)
	}

	// Constant offset, drift insignificant. The median's sign picks the
	// correction; its magnitude needs no floor beyond the in-sync window
	// already checked above.
	switch {
	case median > 0:
		return Decision{
			Decision:   DecisionDelay,
			OffsetMs:   median,
			Confidence: m.Confidence,
			Rationale:  fmt.Sprintf("multi-point agreement; drift insignificant; delaying audio by %.0f ms", median),
		}
	case median < 0 && math.Abs(median) < m.StartSilenceMs:
		return Decision{
			Decision:    DecisionTrim,
			OffsetMs:    math.Abs(median),
			TrimRegions: []Region{{StartMs: 0, EndMs: math.Abs(median)}},
			Confidence:  m.Confidence,
			Rationale:   fmt.Sprintf("audio leads by %.0f ms; trimming leading silence", math.Abs(median)),
		}
	case median < 0:
		return Decision{
			Decision:   DecisionPad,
			OffsetMs:   math.Abs(median),
			Confidence: m.Confidence,
			Rationale:  fmt.Sprintf("audio leads by %.0f ms with only %.0f ms of leading silence; padding video", math.Abs(median), m.StartSilenceMs),
		}
	default:
		// Median exactly zero: the endpoints disagree and cancel out, so
		// the evidence is not trustworthy enough to act on.
		return Decision{
			Decision:   DecisionReject,
			Confidence: m.Confidence,
			Reason:     ReasonLowConfidence,
			Rationale:  "offset measurements inconsistent across anchors",
		}
	}
}

func (e *Engine) stretch(m Measurements, driftRate float64) Decision {
	if m.AudioDurationSec <= 0 {
		return Decision{
			Decision:   DecisionReject,
			Confidence: m.Confidence,
			Reason:     ReasonLowConfidence,
			Rationale:  "audio duration unknown; cannot derive stretch ratio",
		}
	}
	ratio := (m.AudioDurationSec - m.DriftMsPerSec/1000*m.VideoDurationSec) / m.AudioDurationSec
	if ratio < e.t.StretchMin || ratio > e.t.StretchMax {
		return Decision{
			Decision:   DecisionReject,
			Confidence: m.Confidence,
			Reason:     ReasonStretchOutOfRange,
			Rationale:  fmt.Sprintf("required stretch ratio %.4f outside [%.2f, %.2f]", ratio, e.t.StretchMin, e.t.StretchMax),
		}
	}
	return Decision{
		Decision:     DecisionStretch,
		StretchRatio: ratio,
		Confidence:   m.Confidence,
		Rationale:    fmt.Sprintf("linear drift %.2f ms/s across anchors; stretching audio by %.4f", driftRate, ratio),
	}
}

// admissible applies rule 1: two independent methods must agree within the
// agreement window at the start anchor. Without a method breakdown the
// aggregate confidence gates admissibility.
func (e *Engine) admissible(m Measurements) bool {
	if m.Confidence < e.t.ConfidenceFloor {
		return false
	}
	if len(m.MethodStartOffsets) == 0 {
		return true
	}
	if len(m.MethodStartOffsets) < 2 {
		return false
	}
	offsets := make([]float64, 0, len(m.MethodStartOffsets))
	for _, v := range m.MethodStartOffsets {
		offsets = append(offsets, v)
	}
	sort.Float64s(offsets)
	for i := 1; i < len(offsets); i++ {
		if offsets[i]-offsets[i-1] <= e.t.MethodAgreeMs {
			return true
		}
	}
	return false
}

func median3(a, b, c float64) float64 {
	vals := []float64{a, b, c}
	sort.Float64s(vals)
	return vals[1]
}

func signsAgree(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}
