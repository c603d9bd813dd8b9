package availability

import (
	"sort"
	"time"

	"slotwise/internal/model"
)

// Interval is a half-open UTC interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect:
// [a,b) overlaps [c,d) iff a < d && c < b.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Expand widens the interval by d on both ends.
func (iv Interval) Expand(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(-d), End: iv.End.Add(d)}
}

func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// MergeBlocks sorts same-day blocks by start and merges any that touch or
// overlap into maximal disjoint blocks. Empty blocks are discarded.
func MergeBlocks(blocks []model.Block) []model.Block {
	var in []model.Block
	for _, b := range blocks {
		if !b.Empty() {
			in = append(in, b)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].StartMinute != in[j].StartMinute {
			return in[i].StartMinute < in[j].StartMinute
		}
		return in[i].EndMinute < in[j].EndMinute
	})

	merged := make([]model.Block, 0, len(in))
	for _, cur := range in {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.StartMinute > last.EndMinute {
			merged = append(merged, cur)
			continue
		}
		if cur.EndMinute > last.EndMinute {
			last.EndMinute = cur.EndMinute
		}
	}
	return merged
}

// SubtractBlocks removes every blackout block from the working set. Each
// pair falls into one of four cases: disjoint (keep), covered (drop),
// blackout strictly inside (split in two), or partial overlap (truncate).
func SubtractBlocks(blocks []model.Block, blackouts []model.Block) []model.Block {
	out := blocks
	for _, b := range blackouts {
		if b.Empty() {
			continue
		}
		var next []model.Block
		for _, c := range out {
			switch {
			case b.EndMinute <= c.StartMinute || b.StartMinute >= c.EndMinute:
				next = append(next, c)
			case b.StartMinute <= c.StartMinute && b.EndMinute >= c.EndMinute:
				// dropped
			case b.StartMinute > c.StartMinute && b.EndMinute < c.EndMinute:
				next = append(next,
					model.Block{StartMinute: c.StartMinute, EndMinute: b.StartMinute},
					model.Block{StartMinute: b.EndMinute, EndMinute: c.EndMinute},
				)
			case b.StartMinute <= c.StartMinute:
				next = append(next, model.Block{StartMinute: b.EndMinute, EndMinute: c.EndMinute})
			default:
				next = append(next, model.Block{StartMinute: c.StartMinute, EndMinute: b.StartMinute})
			}
		}
		out = next
	}
	return out
}

// ShrinkBlocks applies the buffer policy: [s,e) becomes [s+buf, e-buf).
// Blocks that collapse are dropped.
func ShrinkBlocks(blocks []model.Block, bufferMinutes int) []model.Block {
	if bufferMinutes <= 0 {
		return blocks
	}
	var out []model.Block
	for _, b := range blocks {
		shrunk := model.Block{
			StartMinute: b.StartMinute + bufferMinutes,
			EndMinute:   b.EndMinute - bufferMinutes,
		}
		if !shrunk.Empty() {
			out = append(out, shrunk)
		}
	}
	return out
}
