package transcribe

import "time"

// Reconcile joins per-chunk segments into one transcript ordered by chunk
// index. perChunk[i] belongs to windows[i]. With a positive overlap, a
// segment of a later chunk that starts inside the region already covered by
// the previous chunk is dropped. Failure sentinels are always kept.
func Reconcile(windows []Window, perChunk [][]Segment, overlap time.Duration) []Segment {
	total := 0
	for _, segs := range perChunk {
		total += len(segs)
	}
	out := make([]Segment, 0, total)
	for i, segs := range perChunk {
		cutoff := -1
		if overlap > 0 && i > 0 && i < len(windows) {
			cutoff = int((windows[i].Start + overlap) / time.Second)
		}
		for _, s := range segs {
			if cutoff >= 0 && !s.IsFailure() {
				if start, _ := s.Span(); start < cutoff {
					continue
				}
			}
			out = append(out, s)
		}
	}
	return out
}
