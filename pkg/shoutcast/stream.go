package shoutcast

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const userAgent = "tuberadio/1.0"

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// Stream represents an open shoutcast stream with metadata blocks removed.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// Bitrate of the server
	Bitrate int

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Amount of bytes to read before expecting a metadata block, zero when
	// the server does not interleave metadata
	metaint int

	// Stream metadata
	metadata *Metadata

	// The number of bytes read since last metadata block
	pos int

	// The underlying data stream
	rc io.ReadCloser
}

// NewStream wraps rc, stripping a metadata block every metaint bytes.
func NewStream(rc io.ReadCloser, metaint int) *Stream {
	return &Stream{rc: rc, metaint: metaint}
}

// DefaultClient has connection timeouts but no overall timeout, so a
// stream can be read indefinitely.
var DefaultClient = &http.Client{
	Transport: &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
	},
}

// Open requests url with ICY metadata enabled. Servers that do not answer
// with icy-metaint are read as plain audio.
func Open(ctx context.Context, client *http.Client, url string) (*Stream, error) {
	if client == nil {
		client = DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)
	req.Header.Add("icy-metadata", "1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var bitrate int
	if rawBitrate := resp.Header.Get("icy-br"); rawBitrate != "" {
		bitrate, err = strconv.Atoi(rawBitrate)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse bitrate: %v", err)
		}
	}

	var metaint int
	if rawMetaint := resp.Header.Get("icy-metaint"); rawMetaint != "" {
		metaint, err = strconv.Atoi(rawMetaint)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse metaint: %v", err)
		}
	}

	s := NewStream(resp.Body, metaint)
	s.Name = resp.Header.Get("icy-name")
	s.Genre = resp.Header.Get("icy-genre")
	s.Bitrate = bitrate

	return s, nil
}

// Metadata returns the last metadata block seen, or nil.
func (s *Stream) Metadata() *Metadata {
	return s.metadata
}

// Read implements the standard Read interface. It never returns bytes from
// both sides of a metadata block in one call.
func (s *Stream) Read(buf []byte) (int, error) {
	if s.metaint <= 0 {
		return s.rc.Read(buf)
	}

	if s.pos == s.metaint {
		if err := s.readMetadata(); err != nil {
			return 0, err
		}
		s.pos = 0
	}

	if remaining := s.metaint - s.pos; len(buf) > remaining {
		buf = buf[:remaining]
	}
	n, err := s.rc.Read(buf)
	s.pos += n
	return n, err
}

func (s *Stream) readMetadata() error {
	var length [1]byte
	if _, err := io.ReadFull(s.rc, length[:]); err != nil {
		return err
	}

	size := int(length[0]) * 16
	if size == 0 {
		// Empty metadata block, nothing more to read
		return nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(s.rc, block); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := NewMetadata(block); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(m)
		}
	}
	return nil
}

// Close closes the stream
func (s *Stream) Close() error {
	return s.rc.Close()
}
