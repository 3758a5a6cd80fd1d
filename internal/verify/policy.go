package verify

import (
	"sort"

	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

// policyState is the confirmation state machine. Idle until the first
// expected chord arrives; Armed awaiting passes; Confirming once passes
// accrue; Cooldown after a Match until the chord is released (a non-passing
// tick), so one sustained strum yields exactly one Match.
type policyState int

const (
	policyIdle policyState = iota
	policyArmed
	policyConfirming
	policyCooldown
)

// policyRunner applies the verification policy to aggregated notes, tick by
// tick. Owned exclusively by the inference worker.
type policyRunner struct {
	cfg  Config
	spec chord.Spec
	have bool

	state        policyState
	confirmCount int
	lastMissT    float64
	hasLastMiss  bool
}

func newPolicyRunner(cfg Config) *policyRunner {
	return &policyRunner{cfg: cfg, state: policyIdle}
}

// setExpected replaces the target and resets confirmation state. Setting an
// identical spec is a no-op so repeated calls cannot stretch an in-flight
// confirmation window.
func (p *policyRunner) setExpected(spec chord.Spec) {
	if p.have && p.spec.Equal(spec) {
		return
	}
	p.spec = spec
	p.have = true
	p.state = policyArmed
	p.confirmCount = 0
}

// apply evaluates one tick at session time t (seconds) and returns the
// verdicts to emit (nil, one Match, or one Miss).
func (p *policyRunner) apply(notes []transcribe.NoteEvent, t float64) []Verdict {
	if !p.have {
		return nil
	}

	threshold := p.cfg.effectiveSalienceThreshold()
	pcSet := make(map[chord.PitchClass]bool)
	lowestMidi := 0
	haveLowest := false
	for _, n := range notes {
		if n.Salience < threshold {
			continue
		}
		// Capo: shift what sounded down to the scored shape, so a D-shape
		// played at transpose 2 reduces onto a scored C chord.
		midi := n.Midi - p.cfg.TransposeSemitones
		pcSet[chord.FromMidi(midi)] = true
		if !haveLowest || midi < lowestMidi {
			lowestMidi = midi
			haveLowest = true
		}
	}

	var matched, missing []chord.PitchClass
	for _, pc := range p.spec.PCs {
		if pcSet[pc] {
			matched = append(matched, pc)
		} else {
			missing = append(missing, pc)
		}
	}
	// Spec pitch classes keep their caller order; diagnostics are easier to
	// read (and assert on) ascending.
	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })

	pass := false
	switch p.cfg.Policy {
	case PolicyIncludesTarget:
		pass = pcSet[p.spec.EffectiveRoot()]
	case PolicyBassPriority:
		pass = len(matched) >= p.spec.K &&
			haveLowest && chord.FromMidi(lowestMidi) == p.spec.EffectiveRoot()
	default: // PolicyKOfN
		pass = len(matched) >= p.spec.K
	}
	if pass && !p.cfg.AcceptInversions {
		pass = haveLowest && chord.FromMidi(lowestMidi) == p.spec.EffectiveRoot()
	}

	if pass {
		if p.state == policyCooldown {
			return nil
		}
		p.confirmCount++
		p.state = policyConfirming
		if p.confirmCount >= p.cfg.FramesConfirm {
			p.confirmCount = 0
			p.state = policyCooldown
			return []Verdict{Match{T: t}}
		}
		return nil
	}

	p.confirmCount = 0
	p.state = policyArmed
	cooldown := float64(p.cfg.MissCooldownMs) / 1000
	if p.hasLastMiss && t-p.lastMissT < cooldown {
		return nil
	}
	p.lastMissT = t
	p.hasLastMiss = true
	return []Verdict{Miss{T: t, Matched: matched, Missing: missing}}
}
