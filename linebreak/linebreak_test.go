package linebreak

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRespectsByteLimit(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over ", 10)
	lines := Split(text, 20)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 20)
	}
}

func TestSplitConcatenationIsSubsequence(t *testing.T) {
	text := "hello world, this is a test of the splitting system"
	lines := Split(text, 16)
	joined := strings.Join(lines, "")
	// Concatenation reconstructs the text exactly: Split consumes only
	// mandatory-break characters, and this text has none.
	assert.Equal(t, strings.ReplaceAll(text, "", ""), strings.ReplaceAll(joined, "", ""))
	assert.Equal(t, len([]rune(text)), len([]rune(joined)))
}

func TestSplitHonorsMandatoryBreaks(t *testing.T) {
	lines := Split("line one\nline two", 100)
	require.Len(t, lines, 2)
	assert.Equal(t, "line one", lines[0])
	assert.Equal(t, "line two", lines[1])
}

func TestSplitNeverSplitsGraphemeCluster(t *testing.T) {
	// 'e' + combining acute accent (U+0301), repeated to force a break near
	// the cluster boundary.
	cluster := "é"
	text := strings.Repeat(cluster, 5)
	lines := Split(text, len(cluster)+1)
	for _, l := range lines {
		// Every line must start on a full cluster: a split cluster would
		// leave its combining mark at the start of the next line.
		r, _ := utf8.DecodeRuneInString(l)
		assert.NotEqual(t, rune(0x0301), r)
	}
	assert.Equal(t, text, strings.Join(lines, ""))
}

func TestSplitPrefersWordBoundary(t *testing.T) {
	lines := Split("aaaa bbbb cccc", 6)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 6)
	}
	assert.Equal(t, "aaaa bbbb cccc", strings.Join(lines, ""))
}

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split("", 10))
}

func TestSplitPanicsOnTinyBudget(t *testing.T) {
	assert.Panics(t, func() { Split("hi", 1) })
}
