// Package profile keeps per-provider network estimates and derives the chunk
// size the next write to that provider should use.
package profile

import (
	"time"
)

// Controller tuning.
const (
	// TargetTransfer is how long one chunk transfer should take at the
	// estimated bandwidth.
	TargetTransfer = 3 * time.Second

	// StableThreshold is the number of chunks that must be observed since
	// the last change before the size may change again.
	StableThreshold = 3

	// sampleWeight is the weight of a new sample in every EWMA.
	sampleWeight = 0.2

	degradeLoss  = 0.02
	degradeRTTMS = 200.0
	healthyLoss  = 0.002
	healthyRTTMS = 80.0
)

// Profile is the persisted state of one provider.
type Profile struct {
	BandwidthEWMA   float64 `cbor:"bw_ewma" json:"bandwidth_ewma"`
	RTTEWMA         float64 `cbor:"rtt_ewma" json:"rtt_ewma"`
	LossEWMA        float64 `cbor:"loss_ewma" json:"loss_ewma"`
	PreferredChunk  uint64  `cbor:"preferred_chunk" json:"preferred_chunk"`
	StableChunks    uint32  `cbor:"stable_chunks" json:"stable_chunks"`
	UpdatedAt       int64   `cbor:"updated_at" json:"updated_at"`
	TotalChunks     uint64  `cbor:"total_chunks" json:"total_chunks"`
	TotalFailures   uint64  `cbor:"total_failures" json:"total_failures"`
	LastUploadBytes uint64  `cbor:"last_upload_bytes" json:"last_upload_bytes"`
	LastUploadSecs  float64 `cbor:"last_upload_secs" json:"last_upload_secs"`
	Maintenance     bool    `cbor:"maintenance" json:"maintenance"`
}

// New returns a cold profile for ladder.
func New(ladder Ladder) Profile {
	return Profile{PreferredChunk: ladder.Default()}
}

func ewma(prev float64, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return (1-sampleWeight)*prev + sampleWeight*sample
}

// normalize repairs profiles persisted before the ladder changed.
func (p *Profile) normalize(ladder Ladder) {
	if p.PreferredChunk == 0 {
		p.PreferredChunk = ladder.Default()
		return
	}
	p.PreferredChunk = ladder[ladder.Index(p.PreferredChunk)]
}

// Record folds one successful chunk transfer into the estimates without
// changing the preferred size. A zero elapsed time leaves the bandwidth
// estimate untouched.
func (p *Profile) Record(bytes uint64, elapsed time.Duration, rttMS float64, loss float64, now time.Time) {
	if elapsed > 0 {
		p.BandwidthEWMA = ewma(p.BandwidthEWMA, float64(bytes)/elapsed.Seconds())
	}
	p.RTTEWMA = ewma(p.RTTEWMA, rttMS)
	p.LossEWMA = ewma(p.LossEWMA, loss)

	p.StableChunks++
	p.TotalChunks++
	p.LastUploadBytes = bytes
	p.LastUploadSecs = elapsed.Seconds()
	p.UpdatedAt = now.Unix()
}

// RecordFailure notes a failed transfer: the size drops one step right away
// and the stability counter restarts.
func (p *Profile) RecordFailure(ladder Ladder, now time.Time) {
	p.normalize(ladder)
	p.TotalFailures++
	p.StableChunks = 0
	p.PreferredChunk = ladder.StepDown(p.PreferredChunk)
	p.UpdatedAt = now.Unix()
}

// Desired is the bandwidth-derived chunk size.
func (p *Profile) Desired(ladder Ladder) uint64 {
	return ladder.Clamp(p.BandwidthEWMA * TargetTransfer.Seconds())
}

// Retune applies the hysteresis policy once and reports whether the
// preferred size changed.
//
// Bad networks (loss above 2% or RTT above 200ms) step one entry down.
// Good networks (loss below 0.2% and RTT below 80ms) move to the
// bandwidth-derived size. Anything in between holds. A change is committed
// only after StableThreshold chunks and only if it moves at least one step.
func (p *Profile) Retune(ladder Ladder) bool {
	p.normalize(ladder)
	current := p.PreferredChunk

	var desired uint64
	switch {
	case p.LossEWMA > degradeLoss || p.RTTEWMA > degradeRTTMS:
		desired = ladder.StepDown(current)
	case p.LossEWMA < healthyLoss && p.RTTEWMA < healthyRTTMS:
		desired = p.Desired(ladder)
	default:
		desired = current
	}

	steps := ladder.Index(desired) - ladder.Index(current)
	if steps == 0 || p.StableChunks < StableThreshold {
		return false
	}

	p.PreferredChunk = desired
	p.StableChunks = 0
	return true
}

// Observe records one transfer and retunes, returning the possibly updated
// preferred size.
func (p *Profile) Observe(ladder Ladder, bytes uint64, elapsed time.Duration, rttMS float64, loss float64, now time.Time) uint64 {
	p.Record(bytes, elapsed, rttMS, loss, now)
	p.Retune(ladder)
	return p.PreferredChunk
}
