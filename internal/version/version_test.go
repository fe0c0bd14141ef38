package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	prev := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = prev[0], prev[1], prev[2] })

	assert.Equal(t, "dev (git unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "0.3.0", "abc1234", "2026-04-02T08:00:00Z"
	assert.Equal(t, "0.3.0 (git abc1234, built 2026-04-02T08:00:00Z)", String())
}
