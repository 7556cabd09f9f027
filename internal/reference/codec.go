// Package reference generates and inspects the transaction references that tie
// a checkout attempt to a processor transaction and an order.
package reference

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reconciler/internal/util"
)

const (
	Prefix    = "txn_"
	MinLength = 16

	randomLength = 12
)

// Prefixes issued by earlier storefront versions that are still in circulation.
var legacyPrefixes = []string{"pay_", "ps_", "order_"}

var (
	timestampPattern = regexp.MustCompile(`^txn_(\d{12,14})(?:_|$)`)
	uuidPattern      = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	longDigits       = regexp.MustCompile(`\d{8,}`)
)

// Generate returns a new reference stamped with the current time.
func Generate() string {
	return GenerateAt(time.Now())
}

func GenerateAt(t time.Time) string {
	return fmt.Sprintf("%s%d_%s", Prefix, t.UnixMilli(), util.RandomHex(randomLength))
}

// IsValid is advisory: it checks prefix and length only.
func IsValid(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) < MinLength {
		return false
	}
	if strings.HasPrefix(candidate, Prefix) {
		return true
	}
	for _, p := range legacyPrefixes {
		if strings.HasPrefix(candidate, p) {
			return true
		}
	}
	return false
}

// Timestamp recovers the creation time embedded in a txn_<ms>_... reference.
func Timestamp(ref string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Fragments decomposes a reference into substrings worth searching for:
// UUID-like runs, long digit runs, then the '_'/'-' separated parts.
// Prefix words and parts shorter than four characters are dropped.
func Fragments(ref string) []string {
	ref = strings.TrimSpace(ref)
	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		if len(s) < 4 {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, u := range uuidPattern.FindAllString(ref, -1) {
		add(strings.ToLower(u))
	}
	for _, d := range longDigits.FindAllString(ref, -1) {
		add(d)
	}
	parts := strings.FieldsFunc(ref, func(r rune) bool { return r == '_' || r == '-' })
	for _, p := range parts {
		if isPrefixWord(p) {
			continue
		}
		add(p)
	}
	return out
}

func isPrefixWord(s string) bool {
	w := strings.ToLower(s) + "_"
	if w == Prefix {
		return true
	}
	for _, p := range legacyPrefixes {
		if w == p {
			return true
		}
	}
	return false
}
