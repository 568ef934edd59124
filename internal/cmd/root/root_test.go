package root

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/iostreams"
)

func TestNewCmdRoot(t *testing.T) {
	ios, _, _ := iostreams.Test()
	f := &cmdutil.Factory{IOStreams: ios}

	cmd := NewCmdRoot(f)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{"run", "bootstrap", "test", "teardown", "coverage", "version"} {
		assert.Contains(t, names, want)
	}

	debug, err := cmd.PersistentFlags().GetBool("debug")
	require.NoError(t, err)
	assert.False(t, debug)
}
