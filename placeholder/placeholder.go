// Package placeholder masks RPG Maker control sequences (\C[2], \N[1],
// \V[12], plugin codes...) behind stable bracket tokens so that a
// translation provider cannot damage them, and restores them afterwards.
package placeholder

import (
	"regexp"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Control-code classes
// ---------------------------------------------------------------------------

// Class is one family of control sequences. Classes are scanned in the
// order of Classes; a sequence claimed by an earlier class is never seen
// by a later one.
type Class struct {
	Tag     string
	Pattern *regexp.Regexp
}

// Classes lists the control-code families in scan order.
var Classes = []Class{
	{Tag: "Nested", Pattern: regexp.MustCompile(`\\+\w+\[\\+\w+\[[0-9]+\]\]`)},
	{Tag: "Ascii", Pattern: regexp.MustCompile(`\\+[iIkKwWaA]+\[[0-9]+\]`)},
	{Tag: "Color", Pattern: regexp.MustCompile(`\\+[cC]\[[0-9]+\]`)},
	{Tag: "Noun", Pattern: regexp.MustCompile(`\\+[nN]\[.+?\]+`)},
	{Tag: "Var", Pattern: regexp.MustCompile(`\\+[vV]\[[0-9]+\]`)},
	{Tag: "FCode", Pattern: regexp.MustCompile(`\\+\w+\[[a-zA-Z0-9\\\[\]_,\s-]+\]`)},
}

// tokenSpacing matches a token whose brackets picked up stray whitespace
// on the way through the provider, e.g. "[ Color_0 ]".
var tokenSpacing = regexp.MustCompile(`\[\s*([A-Za-z]+_\d+)\s*\]`)

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set holds the sequences extracted by one Protect call. It is only valid
// for restoring the string that Protect returned alongside it.
type Set struct {
	values [][]string // indexed like Classes
}

// Len reports how many distinct sequences were extracted.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, v := range s.values {
		n += len(v)
	}
	return n
}

// Values returns the distinct sequences recorded for a class tag in
// first-seen order.
func (s *Set) Values(tag string) []string {
	if s == nil {
		return nil
	}
	for i, c := range Classes {
		if c.Tag == tag {
			return append([]string(nil), s.values[i]...)
		}
	}
	return nil
}

func token(tag string, i int) string {
	return "[" + tag + "_" + strconv.Itoa(i) + "]"
}

// Protect replaces every control sequence in s with a token of the form
// [Tag_N]. Identical sequences of one class share a token; N counts the
// distinct sequences of that class in order of first appearance.
func Protect(s string) (string, *Set) {
	set := &Set{values: make([][]string, len(Classes))}
	if !strings.Contains(s, `\`) {
		return s, set
	}
	for ci, c := range Classes {
		index := make(map[string]int)
		s = c.Pattern.ReplaceAllStringFunc(s, func(m string) string {
			i, ok := index[m]
			if !ok {
				i = len(set.values[ci])
				index[m] = i
				set.values[ci] = append(set.values[ci], m)
			}
			return token(c.Tag, i)
		})
	}
	return s, set
}

// Restore puts the recorded sequences back in place of their tokens.
// Classes are restored in reverse scan order, since a later class may
// have captured tokens issued by an earlier one. Tokens that were never
// issued by this set are left as they are.
func (s *Set) Restore(masked string) string {
	if s.Len() == 0 {
		return masked
	}
	masked = tokenSpacing.ReplaceAllString(masked, "[$1]")
	for ci := len(Classes) - 1; ci >= 0; ci-- {
		c := Classes[ci]
		for i, v := range s.values[ci] {
			masked = strings.ReplaceAll(masked, token(c.Tag, i), v)
		}
	}
	return masked
}
