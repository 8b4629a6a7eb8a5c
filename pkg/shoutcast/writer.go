package shoutcast

import "io"

// Writer interleaves metadata blocks into an audio stream every metaint
// bytes, as expected by clients that sent "Icy-MetaData: 1".
type Writer struct {
	w       io.Writer
	metaint int
	pos     int
	pending *Metadata
	sent    *Metadata
}

func NewWriter(w io.Writer, metaint int) *Writer {
	return &Writer{w: w, metaint: metaint}
}

// SetMetadata queues m for the next metadata boundary. Blocks equal to the
// last one sent are written as an empty block.
func (w *Writer) SetMetadata(m *Metadata) {
	w.pending = m
}

func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(w.metaint-w.pos, len(p))
		nn, err := w.w.Write(p[:n])
		written += nn
		w.pos += nn
		if err != nil {
			return written, err
		}
		p = p[n:]

		if w.pos == w.metaint {
			if err := w.writeMetadata(); err != nil {
				return written, err
			}
			w.pos = 0
		}
	}
	return written, nil
}

func (w *Writer) writeMetadata() error {
	block := []byte{0}
	if w.pending != nil && !w.pending.Equals(w.sent) {
		block = w.pending.Bytes()
		w.sent = w.pending
	}
	_, err := w.w.Write(block)
	return err
}
