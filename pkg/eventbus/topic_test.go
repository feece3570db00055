package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	testCases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"plugin.loaded", "plugin.loaded", true},
		{"plugin.loaded", "plugin.unloaded", false},
		{"plugin.*", "plugin.loaded", true},
		{"plugin.*", "plugin.loaded.late", false},
		{"plugin.*", "plugin", false},
		{"plugin.**", "plugin", true},
		{"plugin.**", "plugin.a.b.c", true},
		{"*.created", "import.created", true},
		{"*.created", "import.version.created", false},
		{"**.created", "import.version.created", true},
		{"firehose.*.post", "firehose.app.post", true},
		{"**", "anything.at.all", true},
		{"", "plugin.loaded", false},
	}

	for _, tc := range testCases {
		t.Run(tc.pattern+"->"+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.pattern, tc.topic))
		})
	}
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard("a.*"))
	assert.True(t, IsWildcard("a.**"))
	assert.False(t, IsWildcard("a.b"))
	assert.False(t, IsWildcard("a.b*"))
}
