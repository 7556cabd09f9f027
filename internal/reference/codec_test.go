package reference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_IsValidAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		ref := Generate()
		require.True(t, IsValid(ref), "generated reference rejected: %s", ref)
		_, dup := seen[ref]
		require.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestGenerate_TimestampRoundTrip(t *testing.T) {
	before := time.Now()
	ref := Generate()

	ts, ok := Timestamp(ref)
	require.True(t, ok)
	assert.WithinDuration(t, before, ts, time.Second)
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		ref    string
		wantMs int64
		wantOK bool
	}{
		{"txn_1700000000000_abcd1234", 1700000000000, true},
		{"txn_1700000000000", 1700000000000, true},
		{"pay_1700000000000_abcd1234", 0, false},
		{"txn_abc_1700000000000", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			ts, ok := Timestamp(tc.ref)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantMs, ts.UnixMilli())
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"txn_1700000000000_abcd1234", true},
		{"pay_1700000000000_legacy", true},
		{"ps_0123456789abcdef", true},
		{"order_5f0c6a1e-legacy", true},
		{"txn_123", false},                    // too short
		{"abcdefghijklmnopqrstuvwxyz", false}, // unknown prefix
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, IsValid(tc.input), "IsValid(%q)", tc.input)
	}
}

func TestFragments(t *testing.T) {
	frags := Fragments("txn_1700000000000_abcd1234")
	assert.Equal(t, []string{"1700000000000", "abcd1234"}, frags)

	frags = Fragments("order_3F2504E0-4F89-11D3-9A0C-0305E82C3301_99")
	require.NotEmpty(t, frags)
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", frags[0])
	assert.NotContains(t, frags, "order")
	assert.NotContains(t, frags, "99")
}
