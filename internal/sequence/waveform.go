// Package sequence implements the sequence engine: waveform
// materialization, post-processing, and a wall-clock scheduled run
// lifecycle for driving one device parameter through a timed curve.
package sequence

import (
	"math"
	"math/rand"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// stepFunc yields the next raw (pre-post-processing) sample in the
// active waveform and whether this sample was the last of its cycle.
// Implementations close over their own cycle position and (for random
// walks) their running value.
type stepFunc func() (value float64, dwellMs int, endOfCycle bool)

// newStepFunc builds the stepFunc for a sequence definition's waveform
// variant. Exactly one of Standard/RandomWalk/Arbitrary is expected to
// be set, matching WaveformKind.
func newStepFunc(def protocol.SequenceDefinition, rng *rand.Rand) stepFunc {
	switch def.WaveformKind {
	case protocol.WaveformKindRandomWalk:
		return randomWalkStepFunc(*def.RandomWalk, rng)
	case protocol.WaveformKindArbitrary:
		return arbitraryStepFunc(*def.Arbitrary)
	default:
		return standardStepFunc(*def.Standard)
	}
}

func standardStepFunc(w protocol.WaveformParams) stepFunc {
	i := 0
	return func() (float64, int, bool) {
		v := standardValue(w, i)
		i++
		end := i >= w.PointsPerCycle
		if end {
			i = 0
		}
		return v, w.IntervalMs, end
	}
}

// standardValue evaluates one of the four closed-form waveform shapes at
// step i of n (n = PointsPerCycle).
func standardValue(w protocol.WaveformParams, i int) float64 {
	n := float64(w.PointsPerCycle)
	span := w.Max - w.Min
	switch w.Type {
	case protocol.WaveformSine:
		return w.Min + span*(math.Sin(2*math.Pi*float64(i)/n)+1)/2
	case protocol.WaveformTriangle:
		t := float64(i) / n * 2 // 0..2 across the full cycle
		if t < 1 {
			return w.Min + span*t
		}
		return w.Max - span*(t-1)
	case protocol.WaveformRamp:
		return w.Min + span*float64(i)/n
	case protocol.WaveformSquare:
		if float64(i) < n/2 {
			return w.Min
		}
		return w.Max
	default:
		return w.Min
	}
}

func randomWalkStepFunc(w protocol.RandomWalkParams, rng *rand.Rand) stepFunc {
	prev := w.StartValue
	first := true
	i := 0
	return func() (float64, int, bool) {
		var v float64
		if first {
			v = prev
			first = false
		} else {
			step := (rng.Float64()*2 - 1) * w.MaxStepSize
			v = clampF(prev+step, w.Min, w.Max)
		}
		prev = v
		i++
		end := i >= w.PointsPerCycle
		if end {
			i = 0
		}
		return v, w.IntervalMs, end
	}
}

func arbitraryStepFunc(a protocol.ArbitraryStepsParams) stepFunc {
	i := 0
	return func() (float64, int, bool) {
		s := a.Steps[i]
		i++
		end := i >= len(a.Steps)
		if end {
			i = 0
		}
		return s.Value, s.DwellMs, end
	}
}

func clampF(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// postProcess applies scale, offset, clamp, and slew-rate limiting, in
// that order, to one raw sample. previousCommand is nil on the run's
// very first sample, in which case slew limiting is skipped (there is
// nothing to limit against).
func postProcess(def protocol.SequenceDefinition, raw float64, dwellMs int, previousCommand *float64) float64 {
	v := raw
	if def.Scale != nil {
		v *= *def.Scale
	}
	if def.Offset != nil {
		v += *def.Offset
	}
	if def.MinClamp != nil && v < *def.MinClamp {
		v = *def.MinClamp
	}
	if def.MaxClamp != nil && v > *def.MaxClamp {
		v = *def.MaxClamp
	}
	if def.MaxSlewRate != nil && previousCommand != nil {
		maxDelta := *def.MaxSlewRate * (float64(dwellMs) / 1000)
		delta := v - *previousCommand
		if delta > maxDelta {
			v = *previousCommand + maxDelta
		} else if delta < -maxDelta {
			v = *previousCommand - maxDelta
		}
	}
	return v
}
