package pipecache

import "encoding/binary"

// RunMode identifies the pipeline variant. Each variant owns an independent
// Cache, and the mode enters every history hash so variants never share
// lines even when their stage chains coincide.
type RunMode int32

const (
	RunFull RunMode = iota
	RunPreview
	RunPreview2
	RunExport
	RunThumbnail
)

// DisplayMask flags special evaluation modes. While any of the passthrough
// bits are set the pipeline produces disposable preview output: new lines
// are weighted for immediate reuse and Reweight is a no-op.
type DisplayMask int32

const (
	DisplayNone        DisplayMask = 0
	DisplayPassthrough DisplayMask = 1 << iota
	DisplayChannel
)

// OperationTags classify stages for the focused-stage exclusivity rule.
type OperationTags uint32

// SampleShape selects how a live color picker samples the image.
type SampleShape int32

const (
	SamplePoint SampleShape = iota
	SampleBox
)

// ColorSample is a live color-picker probe attached to a stage. Its
// coordinates enter the history hash so moving the probe invalidates
// exactly the downstream lines that fed it.
type ColorSample struct {
	Shape SampleShape
	Point [2]float32
	Box   [4]float32
}

// Stage is one processing step of an ordered pipeline.
type Stage struct {
	Name       string
	Enabled    bool
	ParamsHash uint64        // precomputed via HashParams, updated on parameter edits
	Tags       OperationTags // what this stage is
	TagsFilter OperationTags // sibling tags this stage suppresses while focused
	ColorPick  *ColorSample  // non-nil while a live picker reads this stage's output
}

// Pipeline is the minimal driver-side view the cache needs: the ordered
// stage chain feeding the hashing protocol plus the evaluation mode that
// decides the caching policy for fresh lines. Access is single-threaded per
// pipeline instance; concurrent pipelines each own their Cache.
type Pipeline struct {
	Mode    RunMode
	Display DisplayMask
	Cache   *Cache

	stages  []*Stage
	focused *Stage
}

// NewPipeline wires a stage chain to its cache.
func NewPipeline(mode RunMode, cache *Cache, stages ...*Stage) *Pipeline {
	return &Pipeline{Mode: mode, Cache: cache, stages: stages}
}

func (p *Pipeline) Stages() []*Stage { return p.stages }

// SetFocus marks the stage being interactively tuned (nil = none). While
// focused, sibling stages matching its exclusivity filter drop out of the
// hash chain so their cached results survive the focused stage's edits.
func (p *Pipeline) SetFocus(s *Stage) { p.focused = s }

// filtered reports whether the focused stage excludes s from the hash chain.
func (p *Pipeline) filtered(s *Stage) bool {
	f := p.focused
	return f != nil && f != s && f.TagsFilter&s.Tags != 0
}

func (p *Pipeline) avoidsCaching() bool {
	return p.Display&(DisplayPassthrough|DisplayChannel) != 0
}

// BasicHash folds image identity, pipeline mode, and the accumulated
// parameter history of the enabled, unfiltered stages strictly before upTo.
func (p *Pipeline) BasicHash(imageID int32, upTo int) uint64 {
	var head [12]byte
	binary.LittleEndian.PutUint32(head[0:], uint32(imageID))
	binary.LittleEndian.PutUint32(head[4:], uint32(p.Mode))
	binary.LittleEndian.PutUint32(head[8:], uint32(p.Display))
	h := foldBytes(hashSeed, head[:])

	for k := 0; k < upTo && k < len(p.stages); k++ {
		s := p.stages[k]
		if !s.Enabled || p.filtered(s) {
			continue
		}
		h = foldWord(h, s.ParamsHash)
		if cp := s.ColorPick; cp != nil {
			switch cp.Shape {
			case SampleBox:
				h = foldFloats(h, cp.Box[:])
			case SamplePoint:
				h = foldFloats(h, cp.Point[:])
			}
		}
	}
	return h
}

// BasicHashPrior returns the basic hash of the last enabled, unfiltered
// stage strictly before the given one, or invalidHash when no such stage
// exists. A stage uses this to compare against its immediate predecessor's
// cache state without recomputing the whole chain.
func (p *Pipeline) BasicHashPrior(imageID int32, stage *Stage) uint64 {
	last := -1
	for k, s := range p.stages {
		if s == stage {
			break
		}
		if s.Enabled && !p.filtered(s) {
			last = k + 1
		}
	}
	if last < 0 {
		return invalidHash
	}
	return p.BasicHash(imageID, last)
}

// FullHash returns the basic hash for upTo together with the full hash that
// additionally folds the raw ROI bytes. Identical histories over different
// regions must miss each other.
func (p *Pipeline) FullHash(imageID int32, roi ROI, upTo int) (basic, full uint64) {
	basic = p.BasicHash(imageID, upTo)
	var scratch [20]byte
	full = foldBytes(basic, roi.appendBinary(scratch[:0]))
	return basic, full
}
