package detector

import (
	"math/rand/v2"
	"sync"
)

const syntheticCandidates = 8

// SyntheticBackend produces random raw tensors. A configurable share of
// calls carries one candidate above any sensible threshold; the rest carry
// only low-scoring noise. It lets the pipeline run without a model.
type SyntheticBackend struct {
	spec    InputSpec
	classes int
	rate    float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticBackend creates a deterministic generator for seed.
func NewSyntheticBackend(spec InputSpec, classes int, rate float64, seed int64) *SyntheticBackend {
	if classes <= 0 {
		classes = len(DamageClasses)
	}
	spec.Domain = DomainFloat32
	return &SyntheticBackend{
		spec:    spec,
		classes: classes,
		rate:    rate,
		rng:     rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
}

func (b *SyntheticBackend) Spec() InputSpec  { return b.spec }
func (b *SyntheticBackend) Kind() OutputKind { return OutputRaw }

// Invoke ignores the input and returns a random raw tensor.
func (b *SyntheticBackend) Invoke(req Request) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, h := float32(b.spec.Width), float32(b.spec.Height)
	cands := make([]RawCandidate, syntheticCandidates)
	for i := range cands {
		scores := make([]float32, b.classes)
		for k := range scores {
			scores[k] = b.rng.Float32() * 0.3
		}
		cands[i] = RawCandidate{
			CX:     b.rng.Float32() * w,
			CY:     b.rng.Float32() * h,
			W:      (0.05 + b.rng.Float32()*0.2) * w,
			H:      (0.05 + b.rng.Float32()*0.2) * h,
			Scores: scores,
		}
	}

	if b.rng.Float64() < b.rate {
		hit := &cands[b.rng.IntN(len(cands))]
		hit.Scores[b.rng.IntN(b.classes)] = 0.6 + b.rng.Float32()*0.35
		hit.W = (0.1 + b.rng.Float32()*0.4) * w
		hit.H = (0.1 + b.rng.Float32()*0.4) * h
	}

	raw := NewRawOutput(b.classes, cands)
	return Output{Raw: &raw}, nil
}

func (b *SyntheticBackend) Close() error { return nil }
