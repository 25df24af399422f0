package gap

import "strings"

// Matcher decides when two topic names denote the same topic by mapping each
// name to a comparison key. Topics with equal keys are counted together.
type Matcher interface {
	Key(topic string) string
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(topic string) string

func (f MatcherFunc) Key(topic string) string { return f(topic) }

// Exact matches names that are equal after lower-casing. "HVAC Repair" and
// "Air Conditioning Repair" stay distinct topics.
var Exact Matcher = MatcherFunc(strings.ToLower)
