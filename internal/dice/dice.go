// Package dice implements standard dice notation parsing and rolling.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pattern matches dice notation like "d20", "2d6+3" or "4d8-1" anywhere in a
// string. Whitespace is tolerated around the modifier sign.
var Pattern = regexp.MustCompile(`(?i)\b(\d*)d(\d+)\s*([+-]\s*\d+)?\b`)

var exactPattern = regexp.MustCompile(`(?i)^(\d*)d(\d+)\s*([+-]\s*\d+)?$`)

var (
	ErrInvalidNotation = errors.New("invalid dice notation")
	ErrTooManyDice     = errors.New("too many dice")
	ErrBadSides        = errors.New("die must have at least two sides")
)

const maxDice = 100

// Spec is a parsed dice expression.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

// Result is the outcome of rolling a Spec.
type Result struct {
	Spec  Spec
	Rolls []int
	Total int

	// Crit and Fumble are only set for a single d20 roll.
	Crit   bool
	Fumble bool
}

// Parse parses a full dice expression like "2d6+3". A missing count means one
// die. The input must be exactly one expression; use Extract to pull an
// expression out of free text.
func Parse(expr string) (Spec, error) {
	m := exactPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, expr)
	}

	return specFromMatch(m)
}

// Extract finds the first dice expression in free text and returns it in
// canonical form, e.g. "roll two dee six plus three" does not match but
// "roll 2d6 + 3" yields "2d6+3".
func Extract(text string) (string, bool) {
	m := Pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	spec, err := specFromMatch(m)
	if err != nil {
		return "", false
	}

	return spec.String(), true
}

func specFromMatch(m []string) (Spec, error) {
	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	if count < 1 || count > maxDice {
		return Spec{}, fmt.Errorf("%w: %d", ErrTooManyDice, count)
	}

	sides, _ := strconv.Atoi(m[2])
	if sides < 2 {
		return Spec{}, fmt.Errorf("%w: d%d", ErrBadSides, sides)
	}

	modifier := 0
	if m[3] != "" {
		modifier, _ = strconv.Atoi(strings.ReplaceAll(m[3], " ", ""))
	}

	return Spec{Count: count, Sides: sides, Modifier: modifier}, nil
}

// String renders the spec in canonical notation.
func (s Spec) String() string {
	out := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	if s.Modifier > 0 {
		out += fmt.Sprintf("+%d", s.Modifier)
	} else if s.Modifier < 0 {
		out += strconv.Itoa(s.Modifier)
	}

	return out
}

// Roller rolls dice expressions. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller seeded from the current time.
func NewRoller() *Roller {
	return NewRollerWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewRollerWithSource creates a roller with a caller-provided source,
// primarily for deterministic tests.
func NewRollerWithSource(src rand.Source) *Roller {
	return &Roller{rng: rand.New(src)}
}

// Roll parses and rolls the given expression.
func (r *Roller) Roll(expr string) (*Result, error) {
	spec, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	return r.RollSpec(spec), nil
}

// RollSpec rolls an already-parsed spec.
func (r *Roller) RollSpec(spec Spec) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &Result{
		Spec:  spec,
		Rolls: make([]int, spec.Count),
	}

	for i := range spec.Count {
		res.Rolls[i] = r.rng.Intn(spec.Sides) + 1
		res.Total += res.Rolls[i]
	}
	res.Total += spec.Modifier

	if spec.Count == 1 && spec.Sides == 20 {
		res.Crit = res.Rolls[0] == 20
		res.Fumble = res.Rolls[0] == 1
	}

	return res
}

// Display renders the result with individual die values, for text channels.
func (res *Result) Display() string {
	rolls := make([]string, len(res.Rolls))
	for i, v := range res.Rolls {
		rolls[i] = strconv.Itoa(v)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎲 `%s` → [%s]", res.Spec.String(), strings.Join(rolls, ", "))
	if res.Spec.Modifier > 0 {
		fmt.Fprintf(&b, " +%d", res.Spec.Modifier)
	} else if res.Spec.Modifier < 0 {
		fmt.Fprintf(&b, " %d", res.Spec.Modifier)
	}
	fmt.Fprintf(&b, " = **%d**", res.Total)

	switch {
	case res.Crit:
		b.WriteString(" ✨ Natural 20!")
	case res.Fumble:
		b.WriteString(" 💀 Natural 1.")
	}

	return b.String()
}

// Spoken renders a terse variant for speech synthesis: total plus
// crit/fumble callouts, no markdown.
func (res *Result) Spoken() string {
	switch {
	case res.Crit:
		return fmt.Sprintf("Natural 20! That's %d total.", res.Total)
	case res.Fumble:
		return fmt.Sprintf("Natural 1. %d total.", res.Total)
	default:
		return fmt.Sprintf("You rolled %d.", res.Total)
	}
}
