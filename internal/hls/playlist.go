package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrInvalidPlaylist = errors.New("invalid playlist")

// Variant is one quality rendition advertised by a master playlist.
type Variant struct {
	Bandwidth int
	Width     int
	Height    int
	URI       string
}

// MediaInfo summarizes a parsed media playlist.
type MediaInfo struct {
	// Duration is the sum of segment durations in seconds.
	Duration float64
	// SegmentCount is the number of #EXTINF entries.
	SegmentCount int
	// Ended reports whether the playlist carries #EXT-X-ENDLIST.
	Ended bool
}

// ParseMasterPlaylist extracts the variant list from a master playlist.
// A playlist without the #EXTM3U header or without any variant is invalid.
func ParseMasterPlaylist(r io.Reader) ([]Variant, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		variants []Variant
		pending  *Variant
		sawHdr   bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "#EXTM3U":
			sawHdr = true
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			v := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			pending = &v
		case strings.HasPrefix(line, "#"):
			// Unrelated tag.
		default:
			if pending != nil {
				pending.URI = line
				variants = append(variants, *pending)
				pending = nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if !sawHdr {
		return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidPlaylist)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: no variants", ErrInvalidPlaylist)
	}
	return variants, nil
}

// parseStreamInf reads the attribute list of a #EXT-X-STREAM-INF tag.
// Unknown attributes are ignored; quoted values may contain commas.
func parseStreamInf(attrs string) Variant {
	var v Variant
	for _, attr := range splitAttributes(attrs) {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.Atoi(strings.TrimSpace(value))
		case "RESOLUTION":
			if w, h, ok := strings.Cut(strings.TrimSpace(value), "x"); ok {
				v.Width, _ = strconv.Atoi(w)
				v.Height, _ = strconv.Atoi(h)
			}
		}
	}
	return v
}

// splitAttributes splits an attribute list on commas outside quotes.
func splitAttributes(s string) []string {
	var (
		parts  []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// ParseMediaPlaylist sums segment durations from a media playlist.
func ParseMediaPlaylist(r io.Reader) (MediaInfo, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		info   MediaInfo
		sawHdr bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "#EXTM3U":
			sawHdr = true
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.IndexByte(value, ','); idx >= 0 {
				value = value[:idx]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return MediaInfo{}, fmt.Errorf("%w: bad segment duration %q", ErrInvalidPlaylist, value)
			}
			info.Duration += d
			info.SegmentCount++
		case line == "#EXT-X-ENDLIST":
			info.Ended = true
		}
	}
	if err := scanner.Err(); err != nil {
		return MediaInfo{}, fmt.Errorf("read playlist: %w", err)
	}
	if !sawHdr {
		return MediaInfo{}, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidPlaylist)
	}
	return info, nil
}

// SelectVariant picks the best variant under the resolution cap: highest
// bandwidth among those with height <= maxHeight. With no cap (maxHeight 0)
// the highest-bandwidth variant wins. If every variant exceeds the cap the
// smallest one is returned so playback can still proceed. An empty slice
// yields a zero Variant.
func SelectVariant(variants []Variant, maxHeight int) Variant {
	if len(variants) == 0 {
		return Variant{}
	}
	var (
		best     *Variant
		smallest *Variant
	)
	for i := range variants {
		v := &variants[i]
		if smallest == nil || v.Height < smallest.Height {
			smallest = v
		}
		if maxHeight > 0 && v.Height > maxHeight {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return *smallest
	}
	return *best
}
