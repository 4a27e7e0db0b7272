package pipeline

import "strings"

type DetectResult struct {
	IsLog  bool
	Score  float64
	Reason string
}

// DetectInstrumentLog decides whether content pulled from a mailbox or a
// watched directory looks like an interleaved instrument log worth
// reconciling.
func DetectInstrumentLog(name string, content []byte, opts Options) DetectResult {
	text := string(content)
	score := 0.0

	if HasLogExtension(name) {
		score += 0.2
	}
	if opts.HeaderMarker != "" && strings.Contains(text, opts.HeaderMarker) {
		score += 0.4
	}

	hits := countMarkerHits(text, opts)
	if hits >= 2 {
		score += 0.4
	} else if hits == 1 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}

	isLog := score >= 0.6
	reason := "rules_negative"
	if isLog {
		reason = "rules_positive"
	}
	return DetectResult{IsLog: isLog, Score: score, Reason: reason}
}

func countMarkerHits(text string, opts Options) int {
	count := 0
	for _, id := range opts.Instruments {
		if strings.Contains(text, MarkerFor(opts.Label, id)) {
			count++
		}
	}
	return count
}
