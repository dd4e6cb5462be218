package matcher

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"
)

// Backend scores the similarity of two normalized strings on a 0-100 scale.
type Backend interface {
	Score(ctx context.Context, subject, target string) (float64, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, subject, target string) (float64, error)

// Score calls f.
func (f BackendFunc) Score(ctx context.Context, subject, target string) (float64, error) {
	return f(ctx, subject, target)
}

// minLabelCoverage is the share of the target a shorter subject must span
// before its score is used unscaled.
const minLabelCoverage = 0.5

// PartialRatio scores how well the subject (element text) matches the target
// (search phrase). It is not symmetric:
//
//   - target no longer than subject: best alignment of the target against every
//     equally long window of the subject, so "gmail" scores 100 in "on gmail link".
//   - subject shorter than target: best edit similarity of the subject against
//     spans of whole target words, scaled down when the subject covers less than
//     half the target. "gmail" scores 100 for "gmail link", "link" and "mail" do not.
//
// Distances are counted in runes.
type PartialRatio struct{}

// Score implements Backend.
func (PartialRatio) Score(ctx context.Context, subject, target string) (float64, error) {
	return partialRatio(subject, target), nil
}

func partialRatio(subject, target string) float64 {
	if subject == "" || target == "" {
		return 0
	}
	ns, nt := utf8.RuneCountInString(subject), utf8.RuneCountInString(target)
	switch {
	case ns == nt:
		return ratio(subject, target)
	case nt < ns:
		return bestWindow(target, []rune(subject))
	default:
		return labelScore(subject, target, ns, nt)
	}
}

// bestWindow slides short across long.
func bestWindow(short string, long []rune) float64 {
	n := utf8.RuneCountInString(short)
	best := 0.0
	for i := 0; i+n <= len(long); i++ {
		r := ratio(short, string(long[i:i+n]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func labelScore(subject, target string, ns, nt int) float64 {
	words := strings.Fields(target)
	best := 0.0
	for i := range words {
		for j := i + 1; j <= len(words); j++ {
			r := similarity(subject, strings.Join(words[i:j], " "))
			if r > best {
				best = r
			}
		}
		if best == 100 {
			break
		}
	}
	if coverage := float64(ns) / float64(nt); coverage < minLabelCoverage {
		best *= coverage / minLabelCoverage
	}
	return best
}

// ratio is the indel similarity: 100 * (1 - distance / (len(a)+len(b))),
// with substitutions costing a deletion plus an insertion.
func ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	d := distance(a, b, 2)
	return 100 * (1 - float64(d)/float64(total))
}

// similarity is the Levenshtein similarity: 100 * (1 - distance / max(len)).
func similarity(a, b string) float64 {
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 100
	}
	d := distance(a, b, 1)
	return 100 * (1 - float64(d)/float64(n))
}

// distance is the Wagner–Fischer edit distance with unit insert and delete
// costs. smetrics works on bytes, so non-ASCII input goes through runeDistance.
func distance(a, b string, sub int) int {
	if isASCII(a) && isASCII(b) {
		return smetrics.WagnerFischer(a, b, 1, 1, sub)
	}
	return runeDistance([]rune(a), []rune(b), sub)
}

func runeDistance(a, b []rune, sub int) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := prev[j-1]
			if a[i-1] != b[j-1] {
				cost += sub
			}
			cur[j] = min(cost, prev[j]+1, cur[j-1]+1)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// fallbackScore is used when no fuzzy backend is usable.
func fallbackScore(subject, target string) float64 {
	if subject == target {
		return 100
	}
	if strings.Contains(subject, target) {
		return 100
	}
	return 0
}
