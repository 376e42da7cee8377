package renderer

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxCaptionRunes  = 100
	CaptionFontSize  = 14
	CaptionLinePitch = 18
	CaptionPadding   = 12
	CaptionMinHeight = 36
	// CaptionAlpha is the band opacity, 60% of 255.
	CaptionAlpha = 153
)

// CaptionLines splits a caption into display lines: blank lines dropped, each
// line NFC-normalised and truncated to MaxCaptionRunes.
func CaptionLines(caption string) []string {
	var lines []string
	for _, line := range strings.Split(caption, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, TruncateLine(line, MaxCaptionRunes))
	}
	return lines
}

// TruncateLine normalises s to NFC and keeps at most max runes.
func TruncateLine(s string, max int) string {
	s = norm.NFC.String(s)
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// CaptionBandHeight is the band height for n lines.
func CaptionBandHeight(n int) int {
	return max(CaptionMinHeight, CaptionPadding+CaptionLinePitch*n)
}
