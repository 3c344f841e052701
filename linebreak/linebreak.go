// Package linebreak splits text into UTF-8-byte-bounded lines while
// respecting grapheme-cluster and word boundaries, following a reduced
// version of Unicode UAX #14 (a handful of break classes rather than the
// full property tables).
package linebreak

import (
	"strings"
	"unicode/utf8"
)

// breakClass classifies a grapheme cluster for the purposes of picking
// break opportunities. This is a deliberately small subset of UAX #14's
// classes: enough to avoid splitting mid-word in the common case while
// always honoring mandatory breaks and never splitting a cluster.
type breakClass int

const (
	classOther breakClass = iota
	classMandatory
	// classAfter marks a cluster after which an optional break is allowed
	// (space, hyphen, and other UAX-14 "break-after" punctuation).
	classAfter
)

const (
	runeLF      = 0x000A
	runeVT      = 0x000B
	runeFF      = 0x000C
	runeCR      = 0x000D
	runeNEL     = 0x0085
	runeLS      = 0x2028
	runePS      = 0x2029
	runeSpace   = 0x0020
	runeTab     = 0x0009
	runeNBSP    = 0x00A0
	runeHyphen  = 0x002D
	runeHyphen2 = 0x2010
	runeSlash   = 0x002F
	runeZWSP    = 0x200B
)

func classify(r rune) breakClass {
	switch r {
	case runeLF, runeVT, runeFF, runeCR, runeNEL, runeLS, runePS:
		return classMandatory
	case runeSpace, runeTab:
		return classAfter
	case runeHyphen, runeHyphen2, runeSlash, runeZWSP:
		return classAfter
	}
	return classOther
}

// isCombiningMark reports whether r must stay attached to the preceding
// base rune rather than ever starting a grapheme cluster on its own. This
// is a reduced approximation of the Unicode combining-mark ranges used by
// grapheme-cluster segmentation (UAX #29), sufficient to keep common
// accented text and emoji-modifier sequences from being split.
func isCombiningMark(r rune) bool {
	switch {
	case r >= 0x0300 && r <= 0x036F: // combining diacritical marks
		return true
	case r >= 0x1AB0 && r <= 0x1AFF: // combining diacritical marks extended
		return true
	case r >= 0x20D0 && r <= 0x20FF: // combining diacritical marks for symbols
		return true
	case r == 0xFE0F: // variation selector-16
		return true
	case r == 0x200D: // zero width joiner (emoji ZWJ sequences)
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // emoji skin-tone modifiers
		return true
	}
	return false
}

// cluster is one grapheme cluster: a base rune plus any combining marks
// that must travel with it.
type cluster struct {
	text  string
	class breakClass
}

func clusters(text string) []cluster {
	var out []cluster
	var cur strings.Builder
	var curClass breakClass
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cluster{text: cur.String(), class: curClass})
			cur.Reset()
		}
	}
	for _, r := range text {
		if isCombiningMark(r) && cur.Len() > 0 {
			cur.WriteRune(r)
			continue
		}
		flush()
		cur.WriteRune(r)
		curClass = classify(r)
	}
	flush()
	return out
}

// Split breaks text into a sequence of lines, each at most maxBytes long in
// UTF-8, preferring break opportunities over hard cuts. Concatenating the
// result reproduces text except that mandatory-break control characters are
// consumed. maxBytes must be at least utf8.UTFMax (the longest
// encoding of a single rune), or Split panics since no cluster containing a
// single wide rune could ever fit otherwise.
func Split(text string, maxBytes int) []string {
	if maxBytes < utf8.UTFMax {
		panic("linebreak: maxBytes must be at least utf8.UTFMax")
	}
	if text == "" {
		return nil
	}

	cs := clusters(text)

	var lines []string
	var cur strings.Builder
	lastBreak := -1 // byte offset within cur of the last optional break opportunity

	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			lastBreak = -1
		}
	}

	for _, cl := range cs {
		if cl.class == classMandatory {
			flush()
			continue
		}

		if cur.Len()+len(cl.text) > maxBytes {
			switch {
			case lastBreak > 0 && lastBreak < cur.Len():
				remainder := cur.String()[lastBreak:]
				lines = append(lines, cur.String()[:lastBreak])
				cur.Reset()
				cur.WriteString(remainder)
				lastBreak = -1
			case cur.Len() > 0:
				// No optional break behind us: hard-cut before this cluster.
				flush()
			}
		}

		cur.WriteString(cl.text)
		if cl.class == classAfter {
			lastBreak = cur.Len()
		}
	}

	flush()
	return lines
}
