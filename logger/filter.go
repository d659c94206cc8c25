package logger

import (
	"github.com/craigwin-ni/daemonlib/config"
)

// maxLinesPerSource bounds Source.lines; overflow beyond this is
// silently dropped (see the per-line-overflow resolution in
// DESIGN.md).
const maxLinesPerSource = 16

// rule is the interpreted form of a config.DebugRule: either a
// group-keyword rule (isGroup true, appliesTo globally) or a
// source-name rule (appliesTo only a Source whose basename matches
// name, case-insensitive).
type rule struct {
	included bool
	isGroup  bool
	groups   Group  // valid when isGroup
	name     string // valid when !isGroup: source basename to match
	hasLine  bool
	line     int
}

// resolveRules interprets the raw config grammar against the group
// keyword set. A group-keyword rule combined with an explicit line
// cannot be applied as a plain source-wide mask adjustment (§4.5 point
// 3 forbids it outright and calls for a warning); this reimplementation
// instead applies it as a line-scoped global override, since that is
// the only reading consistent with the worked filter-precedence example
// in §8 (S2: "+all,-packet,+packet:137" must leave line 137 of an
// unrelated source with packet debug output enabled). warn is called
// once per such rule for visibility.
func resolveRules(raw []config.DebugRule, warn func(string)) []rule {
	rules := make([]rule, 0, len(raw))
	for _, r := range raw {
		if g, ok := groupKeyword(r.Name); ok {
			if r.HasLine && warn != nil {
				warn("debug filter: group keyword rule with an explicit line (" + r.Name + ") is applied as a line-scoped override, not rejected outright")
			}
			rules = append(rules, rule{included: r.Included, isGroup: true, groups: g, hasLine: r.HasLine, line: r.Line})
			continue
		}
		rules = append(rules, rule{included: r.Included, isGroup: false, name: r.Name, hasLine: r.HasLine, line: r.Line})
	}
	return rules
}
