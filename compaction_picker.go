// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"bytes"
	"slices"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cockroachdb/errors"
)

// pickedCompaction describes a compaction chosen by the picker but not yet
// scheduled. Inputs reference SstableInfos of the version the pick was made
// against; the executor revalidates against the current version before
// committing.
type pickedCompaction struct {
	group       base.GroupID
	startLevel  int
	outputLevel int
	// inputs[0] holds the start level files, inputs[1] the output level
	// overlaps. A move compaction has empty inputs[1].
	inputs [2][]*manifest.SstableInfo
	score  float64
	// baseVersion is the version id the pick was computed against.
	baseVersion base.VersionID
	// reclaimOnly marks a pick whose sole purpose is removing rows of
	// dropped tables; such picks skip the score threshold.
	reclaimOnly bool
}

func (pc *pickedCompaction) inputTables() []*manifest.SstableInfo {
	out := make([]*manifest.SstableInfo, 0, len(pc.inputs[0])+len(pc.inputs[1]))
	out = append(out, pc.inputs[0]...)
	out = append(out, pc.inputs[1]...)
	return out
}

func (pc *pickedCompaction) inputSize() uint64 {
	return manifest.TotalSize(pc.inputs[0]) + manifest.TotalSize(pc.inputs[1])
}

// levelScore is the prioritization unit of the picker: one (group, level)
// pair with its current fill ratio.
type levelScore struct {
	group base.GroupID
	level int
	score float64
}

// compactionPicker computes per-level scores against size targets and picks
// the most out-of-shape level to compact. It is stateless; every pick reads
// a version snapshot.
type compactionPicker struct {
	opts *Options
}

// levelMaxBytes returns the size target of a non-zero level. The base level
// target is fixed and each deeper level is LevelMultiplier times larger.
func (p *compactionPicker) levelMaxBytes(level int) uint64 {
	max := uint64(p.opts.LBaseMaxBytes)
	for l := 1; l < level; l++ {
		max *= uint64(p.opts.LevelMultiplier)
	}
	return max
}

// scores computes the fill ratio of every (group, level) pair in v, sorted
// descending. L0 is scored by file count against L0CompactionThreshold;
// deeper levels by byte size against their level target. The bottom level
// never compacts on score.
func (p *compactionPicker) scores(v *manifest.Version) []levelScore {
	var out []levelScore
	for _, g := range v.GroupIDs() {
		ls := v.Groups[g]
		if n := len(ls.Levels[0]); n > 0 {
			out = append(out, levelScore{
				group: g,
				level: 0,
				score: float64(n) / float64(p.opts.L0CompactionThreshold),
			})
		}
		for level := 1; level < manifest.NumLevels-1; level++ {
			size := manifest.TotalSize(ls.Levels[level])
			if size == 0 {
				continue
			}
			out = append(out, levelScore{
				group: g,
				level: level,
				score: float64(size) / float64(p.levelMaxBytes(level)),
			})
		}
	}
	slices.SortFunc(out, func(a, b levelScore) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return int(a.group) - int(b.group)
		}
	})
	return out
}

// pickAuto returns the highest-scoring compaction whose score is at least 1,
// or nil if every level is within its target. Inputs already claimed by
// in-flight tasks are excluded via busy.
func (p *compactionPicker) pickAuto(
	v *manifest.Version, busy map[base.SstableID]struct{},
) *pickedCompaction {
	for _, ls := range p.scores(v) {
		if ls.score < 1 {
			// Scores are sorted descending; nothing below this is eligible.
			return nil
		}
		if pc := p.pickLevel(v, ls.group, ls.level, busy); pc != nil {
			pc.score = ls.score
			return pc
		}
	}
	return nil
}

// pickReclaim returns a compaction that rewrites files still carrying rows
// of dropped tables, regardless of level scores. Used to reclaim the space
// of dropped state tables promptly.
func (p *compactionPicker) pickReclaim(
	v *manifest.Version, busy map[base.SstableID]struct{},
) *pickedCompaction {
	for _, g := range v.GroupIDs() {
		ls := v.Groups[g]
		for level := 0; level < manifest.NumLevels; level++ {
			for _, t := range ls.Levels[level] {
				if _, ok := busy[t.ID]; ok {
					continue
				}
				if !referencesDropped(v, t) {
					continue
				}
				out := level
				if level < manifest.NumLevels-1 {
					out = level + 1
				}
				pc := &pickedCompaction{
					group:       g,
					startLevel:  level,
					outputLevel: out,
					baseVersion: v.ID,
					reclaimOnly: true,
				}
				pc.inputs[0] = []*manifest.SstableInfo{t}
				if level != out {
					pc.inputs[1] = overlapping(ls.Levels[out], t.Smallest, t.Largest)
					if anyBusy(pc.inputs[1], busy) {
						continue
					}
				}
				return pc
			}
		}
	}
	return nil
}

// referencesDropped reports whether t owns rows of a table no longer present
// in v's table registry.
func referencesDropped(v *manifest.Version, t *manifest.SstableInfo) bool {
	for _, id := range t.TableIDs {
		if _, ok := v.Tables[id]; !ok {
			return true
		}
	}
	return false
}

// pickLevel builds a compaction out of the given level into the next one.
// Returns nil when every candidate seed conflicts with in-flight inputs or
// the byte budget cannot be met.
func (p *compactionPicker) pickLevel(
	v *manifest.Version, g base.GroupID, level int, busy map[base.SstableID]struct{},
) *pickedCompaction {
	ls := v.Groups[g]
	outputLevel := level + 1
	pc := &pickedCompaction{
		group:       g,
		startLevel:  level,
		outputLevel: outputLevel,
		baseVersion: v.ID,
	}

	if level == 0 {
		// L0 files may mutually overlap, so every L0 file joins the
		// compaction. This keeps the L0 shape simple at the cost of wider
		// compactions under heavy ingest.
		if anyBusy(ls.Levels[0], busy) {
			return nil
		}
		pc.inputs[0] = slices.Clone(ls.Levels[0])
	} else {
		seed := p.pickSeed(ls.Levels[level], ls.Levels[outputLevel], busy)
		if seed == nil {
			return nil
		}
		pc.inputs[0] = []*manifest.SstableInfo{seed}
	}

	smallest, largest := keyBounds(pc.inputs[0])
	pc.inputs[1] = overlapping(ls.Levels[outputLevel], smallest, largest)
	if anyBusy(pc.inputs[1], busy) {
		return nil
	}
	if pc.inputSize() > uint64(p.opts.MaxCompactionBytes) && level > 0 {
		// Over budget; a different seed will not shrink the L0 case, but for
		// deeper levels another seed may have fewer output overlaps. Give up
		// this round rather than search exhaustively.
		return nil
	}
	return pc
}

// pickSeed chooses the start file of an intra-tree compaction: the file with
// the widest epoch spread, breaking ties toward the compaction touching the
// fewest files, then toward the smaller seed. Old entries pile up as epoch
// spread, so this prefers the file holding the most reclaimable history.
func (p *compactionPicker) pickSeed(
	tables, output []*manifest.SstableInfo, busy map[base.SstableID]struct{},
) *manifest.SstableInfo {
	var seed *manifest.SstableInfo
	var seedSpread uint64
	var seedFiles int
	for _, t := range tables {
		if _, ok := busy[t.ID]; ok {
			continue
		}
		spread := uint64(t.MaxEpoch - t.MinEpoch)
		files := 1 + len(overlapping(output, t.Smallest, t.Largest))
		if seed == nil || spread > seedSpread ||
			(spread == seedSpread && files < seedFiles) ||
			(spread == seedSpread && files == seedFiles && t.Size < seed.Size) {
			seed = t
			seedSpread = spread
			seedFiles = files
		}
	}
	return seed
}

// pickManual builds a compaction of every file in the given level of the
// given group into the level below. ErrInvalid when the group or level does
// not exist or the level is empty.
func (p *compactionPicker) pickManual(
	v *manifest.Version, g base.GroupID, level int, busy map[base.SstableID]struct{},
) (*pickedCompaction, error) {
	ls, ok := v.Groups[g]
	if !ok {
		return nil, errors.Mark(errors.Newf("cascade: unknown compaction group %d", g), ErrInvalid)
	}
	if level < 0 || level >= manifest.NumLevels-1 {
		return nil, errors.Mark(errors.Newf("cascade: cannot compact out of level %d", level), ErrInvalid)
	}
	if len(ls.Levels[level]) == 0 {
		return nil, errors.Mark(errors.Newf("cascade: level %d of group %d is empty", level, g), ErrInvalid)
	}
	if anyBusy(ls.Levels[level], busy) {
		return nil, errors.Mark(errors.New("cascade: level has in-flight compactions"), ErrConflict)
	}
	pc := &pickedCompaction{
		group:       g,
		startLevel:  level,
		outputLevel: level + 1,
		baseVersion: v.ID,
	}
	pc.inputs[0] = slices.Clone(ls.Levels[level])
	smallest, largest := keyBounds(pc.inputs[0])
	pc.inputs[1] = overlapping(ls.Levels[level+1], smallest, largest)
	if anyBusy(pc.inputs[1], busy) {
		return nil, errors.Mark(errors.New("cascade: output level has in-flight compactions"), ErrConflict)
	}
	return pc, nil
}

// overlapping returns the files of a sorted level overlapping [smallest,
// largest].
func overlapping(tables []*manifest.SstableInfo, smallest, largest []byte) []*manifest.SstableInfo {
	var out []*manifest.SstableInfo
	for _, t := range tables {
		if t.Overlaps(smallest, largest) {
			out = append(out, t)
		}
	}
	return out
}

// keyBounds returns the union key range of the given tables.
func keyBounds(tables []*manifest.SstableInfo) (smallest, largest []byte) {
	for i, t := range tables {
		if i == 0 {
			smallest, largest = t.Smallest, t.Largest
			continue
		}
		if bytes.Compare(t.Smallest, smallest) < 0 {
			smallest = t.Smallest
		}
		if bytes.Compare(t.Largest, largest) > 0 {
			largest = t.Largest
		}
	}
	return smallest, largest
}

func anyBusy(tables []*manifest.SstableInfo, busy map[base.SstableID]struct{}) bool {
	for _, t := range tables {
		if _, ok := busy[t.ID]; ok {
			return true
		}
	}
	return false
}
