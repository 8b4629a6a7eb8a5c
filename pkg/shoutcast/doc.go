// Package shoutcast implements the ICY/Shoutcast side of the station: metadata
// block encoding, a writer that interleaves metadata into a listener's audio
// stream, a reader that strips metadata from remote streams, and PLS/M3U
// playlist parsing.
//
// It began as a fork of github.com/romantomjak/shoutcast and keeps its
// metadata format:
//   - Metadata blocks are a length byte (in 16 byte units) followed by
//     NUL padded "StreamTitle='...';" text
//   - A zero length byte means the metadata is unchanged
//   - Playlists (.pls and .m3u) are expanded to every entry, not only the first
package shoutcast
