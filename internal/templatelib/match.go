package templatelib

import (
	"sort"

	"github.com/chuffdetect/callsentry/internal/fingerprint"
	"gonum.org/v1/gonum/stat"
)

const (
	minSharedHashes   = 11
	timelyTolerance   = 3
	minTimelyHashes   = 5
	minDistinctOffset = 2
	minMatchCount     = 80
	fanOutWeight      = 15
)

// Analyse intersects query's hashes against hashIndex, grouping candidate
// templates by shared hash, and returns the first template that satisfies
// the acceptance rule: >= minSharedHashes shared hashes, a temporal
// consistency check around the shared hashes' median offset, and a
// weighted match_count over minMatchCount. skipTemplateName excludes a
// template from matching itself during library self-checks. Returns
// ("", 0, 0) if nothing matches. Grounded on
// original_source/src/detector.py's analise_fingerprint.
func Analyse(query *fingerprint.FingerPrint, hashIndex map[string][]string, templates map[string]*Template, skipTemplateName string) (string, int, int) {
	candidateHashes := make(map[string][]string)
	for h := range query.HashOffsets {
		for _, name := range hashIndex[h] {
			candidateHashes[name] = append(candidateHashes[name], h)
		}
	}

	// Deterministic iteration order so tests (and cross-template warnings)
	// see stable results when multiple templates would otherwise match.
	var names []string
	for name := range candidateHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, templateName := range names {
		if templateName == skipTemplateName {
			continue
		}
		sharedHashes := candidateHashes[templateName]
		if len(sharedHashes) < minSharedHashes {
			continue
		}

		tmpl, ok := templates[templateName]
		if !ok {
			continue
		}

		timelyHashes, shift := timelyHashes(query.HashOffsets, tmpl.Fingerprint.HashOffsets)

		offsetTimes := distinctValues(timelyHashes)
		if len(timelyHashes) < minTimelyHashes || len(offsetTimes) < minDistinctOffset {
			continue
		}

		matchCount := len(timelyHashes) + len(offsetTimes)*fanOutWeight
		if matchCount < minMatchCount {
			continue
		}

		return templateName, matchCount, shift
	}

	return "", 0, 0
}

// timelyHashes subtracts the template's anchor offset from the query's
// offset for every shared hash, takes the median of those differences,
// and keeps only hashes whose difference falls within ±timelyTolerance of
// that median, per spec.md §4.6 step 2.
func timelyHashes(queryOffsets, templateOffsets map[string]int) (map[string]int, int) {
	diffs := make(map[string]int)
	for h, qOffset := range queryOffsets {
		if tOffset, ok := templateOffsets[h]; ok {
			diffs[h] = qOffset - tOffset
		}
	}
	if len(diffs) == 0 {
		return map[string]int{}, 0
	}

	values := make([]float64, 0, len(diffs))
	for _, d := range diffs {
		values = append(values, float64(d))
	}
	sort.Float64s(values)
	median := int(stat.Quantile(0.5, stat.Empirical, values, nil))

	timely := make(map[string]int, len(diffs))
	for h, d := range diffs {
		if abs(d-median) <= timelyTolerance {
			timely[h] = queryOffsets[h]
		}
	}
	return timely, median
}

func distinctValues(m map[string]int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, v := range m {
		out[v] = struct{}{}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
