package subtitles

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"finplay/models"
)

var ErrUnsupportedFormat = errors.New("unsupported subtitle format")

// ParseFile parses an uploaded subtitle file into cues. The format is
// sniffed from content first (WebVTT or SubRip), with the file extension as
// a tiebreaker for plain-text payloads.
func ParseFile(name string, data []byte) ([]models.SubtitleCue, error) {
	kind := mimetype.Detect(data)
	switch {
	case kind.Is("text/vtt"):
		return parseVTT(data)
	case kind.Is("application/x-subrip"):
		return parseSRT(data)
	}

	// Text payloads the sniffer could not pin down: go by extension, then
	// by the WEBVTT magic.
	switch strings.ToLower(filepath.Ext(name)) {
	case ".vtt":
		return parseVTT(data)
	case ".srt":
		return parseSRT(data)
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("WEBVTT")) {
		return parseVTT(data)
	}

	return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, name, kind.String())
}

// parseSRT reads SubRip blocks: numeric counter, "HH:MM:SS,mmm --> HH:MM:SS,mmm",
// then text lines until a blank line. Malformed blocks are skipped.
func parseSRT(data []byte) ([]models.SubtitleCue, error) {
	var cues []models.SubtitleCue
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		start, end int64
		textLines  []string
		inCue      bool
	)
	flush := func() {
		if inCue && len(textLines) > 0 {
			cues = append(cues, models.SubtitleCue{
				StartTicks: start,
				EndTicks:   end,
				Text:       strings.Join(textLines, "\n"),
			})
		}
		textLines = nil
		inCue = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			s, e, err := parseTimeRange(line)
			if err != nil {
				log.Printf("[subtitles] skipping malformed srt timing %q: %v", line, err)
				inCue = false
				continue
			}
			start, end = s, e
			inCue = true
		case inCue:
			textLines = append(textLines, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	return cues, nil
}

// parseVTT reads WebVTT, ignoring the header, NOTE and STYLE blocks, and
// optional cue identifiers.
func parseVTT(data []byte) ([]models.SubtitleCue, error) {
	var cues []models.SubtitleCue
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		start, end int64
		textLines  []string
		inCue      bool
		skipBlock  bool
	)
	flush := func() {
		if inCue && len(textLines) > 0 {
			cues = append(cues, models.SubtitleCue{
				StartTicks: start,
				EndTicks:   end,
				Text:       strings.Join(textLines, "\n"),
			})
		}
		textLines = nil
		inCue = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		switch {
		case line == "":
			flush()
			skipBlock = false
		case skipBlock:
		case strings.HasPrefix(line, "WEBVTT"):
		case strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION"):
			skipBlock = true
		case strings.Contains(line, "-->"):
			s, e, err := parseTimeRange(line)
			if err != nil {
				log.Printf("[subtitles] skipping malformed vtt timing %q: %v", line, err)
				inCue = false
				continue
			}
			start, end = s, e
			inCue = true
		case inCue:
			textLines = append(textLines, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vtt: %w", err)
	}
	return cues, nil
}

// parseTimeRange parses "HH:MM:SS,mmm --> HH:MM:SS.mmm" (either separator;
// VTT cue settings after the end time are ignored) into tick timestamps.
func parseTimeRange(line string) (start, end int64, err error) {
	left, right, ok := strings.Cut(line, "-->")
	if !ok {
		return 0, 0, fmt.Errorf("missing arrow")
	}
	right = strings.TrimSpace(right)
	if idx := strings.IndexByte(right, ' '); idx >= 0 {
		right = right[:idx]
	}
	if start, err = parseTimestamp(strings.TrimSpace(left)); err != nil {
		return 0, 0, err
	}
	if end, err = parseTimestamp(right); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp parses [HH:]MM:SS[.,]mmm into ticks.
func parseTimestamp(s string) (int64, error) {
	var ms int64
	if idx := strings.IndexAny(s, ".,"); idx >= 0 {
		frac := s[idx+1:]
		s = s[:idx]
		n, err := strconv.Atoi(frac)
		if err != nil || len(frac) > 3 {
			return 0, fmt.Errorf("bad milliseconds %q", frac)
		}
		for i := len(frac); i < 3; i++ {
			n *= 10
		}
		ms = int64(n)
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	var total int64
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
		total = total*60 + int64(n)
	}
	return total*models.TicksPerSecond + ms*models.TicksPerSecond/1000, nil
}
