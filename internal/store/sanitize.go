package store

import (
	"math"
	"strings"
	"unicode"

	"github.com/JonMunkholm/geoload/internal/feature"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func isStrippedControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

// sanitizeText replaces ill-formed UTF-8, strips NUL and other control
// characters, and normalizes to NFC.
func sanitizeText(s string) string {
	t := transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(isStrippedControl)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if isStrippedControl(r) {
				return -1
			}
			return r
		}, strings.ToValidUTF8(s, "�"))
	}
	return out
}

// sanitizeValue is applied to every attribute on the retry attempt.
func sanitizeValue(v feature.Value) feature.Value {
	switch v.Kind {
	case feature.KindText:
		return feature.Text(sanitizeText(v.Text))
	case feature.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return feature.Null()
		}
	}
	return v
}

// argFor converts v for a column of the given kind.
func argFor(v feature.Value, kind feature.Kind) any {
	if v.IsNull() {
		return nil
	}
	switch kind {
	case feature.KindText:
		if v.Kind == feature.KindText {
			return v.Text
		}
		return v.String()
	case feature.KindFloat:
		if v.Kind == feature.KindInteger {
			return float64(v.Int)
		}
	case feature.KindInteger:
		if v.Kind == feature.KindFloat && v.Float == math.Trunc(v.Float) &&
			v.Float >= math.MinInt64 && v.Float <= math.MaxInt64 {
			return int64(v.Float)
		}
	}
	return v.Any()
}
