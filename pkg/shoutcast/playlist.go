package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Entry is one playable URL from a playlist.
type Entry struct {
	URL   string
	Title string
}

// ParsePLS parses a PLS playlist and returns its entries in FileN order.
func ParsePLS(body io.Reader) ([]Entry, error) {
	byIndex := map[int]*Entry{}
	get := func(i int) *Entry {
		e, ok := byIndex[i]
		if !ok {
			e = &Entry{}
			byIndex[i] = e
		}
		return e
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case strings.HasPrefix(key, "File"):
			if i, err := strconv.Atoi(key[len("File"):]); err == nil && value != "" {
				get(i).URL = value
			}
		case strings.HasPrefix(key, "Title"):
			if i, err := strconv.Atoi(key[len("Title"):]); err == nil {
				get(i).Title = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	indexes := make([]int, 0, len(byIndex))
	for i, e := range byIndex {
		if e.URL != "" {
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	entries := make([]Entry, 0, len(indexes))
	for _, i := range indexes {
		entries = append(entries, *byIndex[i])
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no stream URL found in PLS playlist")
	}
	return entries, nil
}

// ParseM3U parses an M3U or extended M3U playlist. #EXTINF titles are
// attached to the URL that follows them.
func ParseM3U(body io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		title   string
	)

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			if _, t, ok := strings.Cut(line, ","); ok {
				title = strings.TrimSpace(t)
			}
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://"):
			entries = append(entries, Entry{URL: line, Title: title})
			title = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no stream URL found in M3U playlist")
	}
	return entries, nil
}

// IsPlaylistURL reports whether ref is an http(s) URL of a .pls or .m3u file.
func IsPlaylistURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".pls") || strings.HasSuffix(p, ".m3u") || strings.HasSuffix(p, ".m3u8")
}

// FetchPlaylist downloads a playlist and parses it according to its
// content type, falling back to the URL suffix and the content itself.
func FetchPlaylist(ctx context.Context, client *http.Client, playlistURL string) ([]Entry, error) {
	if client == nil {
		client = DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(data)
	contentType := resp.Header.Get("Content-Type")
	lowerURL := strings.ToLower(playlistURL)

	isPLS := strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(lowerURL, ".pls") ||
		strings.Contains(content, "[playlist]")

	if isPLS {
		entries, err := ParsePLS(strings.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse PLS playlist: %w", err)
		}
		return entries, nil
	}

	entries, err := ParseM3U(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse M3U playlist (Content-Type: %s): %w", contentType, err)
	}
	return entries, nil
}
