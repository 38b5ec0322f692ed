package parsers

import "strings"

// AllowedDelimiters lists the delimiters the sniffer may return, in
// preference order.
var AllowedDelimiters = []rune{',', ';', '\t', '|'}

// SniffDelimiter guesses the delimiter of text from its first sampleSize
// bytes. It first looks for a delimiter that occurs the same number of times
// on (nearly) every line, then falls back to the most frequent allowed
// delimiter, and finally to a comma. It never fails.
func SniffDelimiter(text string, sampleSize int) rune {
	sample := text
	truncated := false
	if sampleSize > 0 && len(sample) > sampleSize {
		sample = sample[:sampleSize]
		truncated = true
	}

	if d, ok := guessConsistent(sample, truncated); ok {
		return d
	}
	return mostFrequent(sample)
}

// guessConsistent counts each delimiter per logical line, ignoring quoted
// sections, and accepts the first delimiter (in preference order) whose
// modal count is non-zero and shared by enough lines.
func guessConsistent(sample string, truncated bool) (rune, bool) {
	lines := splitLogicalLines(sample)
	if truncated && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return 0, false
	}

	type mode struct{ count, lines int }
	modes := make(map[rune]mode, len(AllowedDelimiters))
	for _, d := range AllowedDelimiters {
		freq := make(map[int]int)
		for _, line := range lines {
			freq[line.counts[d]]++
		}
		var best mode
		for count, n := range freq {
			if n > best.lines || (n == best.lines && count > best.count) {
				best = mode{count: count, lines: n}
			}
		}
		modes[d] = best
	}

	total := float64(len(lines))
	for consistency := 100; consistency >= 90; consistency-- {
		for _, d := range AllowedDelimiters {
			m := modes[d]
			if m.count > 0 && float64(m.lines)/total*100 >= float64(consistency) {
				return d, true
			}
		}
	}
	return 0, false
}

type lineCounts struct {
	counts map[rune]int
}

func splitLogicalLines(sample string) []lineCounts {
	var lines []lineCounts
	current := lineCounts{counts: make(map[rune]int)}
	blank := true
	inQuotes := false

	flush := func() {
		if !blank {
			lines = append(lines, current)
		}
		current = lineCounts{counts: make(map[rune]int)}
		blank = true
	}

	for _, r := range sample {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			blank = false
		case r == '\n' && !inQuotes:
			flush()
		case r == '\r' && !inQuotes:
		case inQuotes:
		default:
			if isAllowed(r) {
				current.counts[r]++
			}
			if r != ' ' {
				blank = false
			}
		}
	}
	flush()
	return lines
}

func mostFrequent(sample string) rune {
	best, bestCount := ',', 0
	for _, d := range AllowedDelimiters {
		if n := strings.Count(sample, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func isAllowed(r rune) bool {
	for _, d := range AllowedDelimiters {
		if r == d {
			return true
		}
	}
	return false
}

// DelimiterName returns a printable name for a delimiter.
func DelimiterName(d rune) string {
	switch d {
	case '\t':
		return "tab"
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '|':
		return "pipe"
	default:
		return string(d)
	}
}
