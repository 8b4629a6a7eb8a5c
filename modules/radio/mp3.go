package radio

import "bytes"

// frameSyncSearchLimit is how much of an item is scanned for a frame sync
// before it is passed through unaligned.
const frameSyncSearchLimit = 8192

// findMP3FrameSync finds the position of the first valid MP3 frame sync word:
// 0xFF followed by a byte whose high nibble is 0xE or 0xF.
// Returns -1 if not found.
func findMP3FrameSync(data []byte) int {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && (data[i+1]&0xE0) == 0xE0 {
			return i
		}
	}
	return -1
}

// frameAligner drops the bytes before the first frame sync of an item, so a
// listener joining on an item boundary never gets a partial frame or tag.
type frameAligner struct {
	enabled bool
	synced  bool
	pending []byte
}

func newFrameAligner(enabled bool) *frameAligner {
	return &frameAligner{enabled: enabled, synced: !enabled}
}

// feed returns the bytes of b ready to be queued, as a new slice. It returns
// nil while still searching.
func (a *frameAligner) feed(b []byte) []byte {
	if a.synced {
		return bytes.Clone(b)
	}

	a.pending = append(a.pending, b...)
	if pos := findMP3FrameSync(a.pending); pos >= 0 {
		out := a.pending[pos:]
		a.pending = nil
		a.synced = true
		return out
	}
	if len(a.pending) > frameSyncSearchLimit {
		// No frame sync, might be valid audio anyway
		out := a.pending
		a.pending = nil
		a.synced = true
		return out
	}
	return nil
}

// flush returns whatever is still held back when the item ends.
func (a *frameAligner) flush() []byte {
	out := a.pending
	a.pending = nil
	return out
}
