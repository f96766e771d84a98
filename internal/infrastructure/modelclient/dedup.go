package modelclient

import "fmt"

// dedupKey identifies the (item_id, output_index, summary_index|content_index)
// tuple a sequence of deltas belongs to.
type dedupKey string

func deltaKey(itemID string, outputIndex, subIndex int) dedupKey {
	return dedupKey(fmt.Sprintf("%s:%d:%d", itemID, outputIndex, subIndex))
}

// deduper drops duplicate/out-of-order SSE deltas: per-key it tracks the
// highest sequence number seen (or, when sequence numbers are absent,
// the last delta text) and a global monotonic checkpoint across all
// keys.
type deduper struct {
	lastSeqByKey  map[dedupKey]int64
	lastTextByKey map[dedupKey]string
	globalLast    int64
}

func newDeduper() *deduper {
	return &deduper{
		lastSeqByKey:  make(map[dedupKey]int64),
		lastTextByKey: make(map[dedupKey]string),
	}
}

// Admit reports whether a delta with the given key/seq/text should be
// forwarded (true) or dropped as a duplicate (false). When accepted, it
// advances the per-key and global checkpoints.
func (d *deduper) Admit(key dedupKey, seq int64, text string) bool {
	if seq > 0 {
		if seq <= d.globalLast {
			return false
		}
		if last, ok := d.lastSeqByKey[key]; ok && seq <= last {
			return false
		}
		d.lastSeqByKey[key] = seq
		d.globalLast = seq
		return true
	}

	// No sequence number: fall back to exact-text duplicate detection
	// for the same key.
	if last, ok := d.lastTextByKey[key]; ok && last == text {
		return false
	}
	d.lastTextByKey[key] = text
	return true
}
