package main

import (
	"testing"

	"github.com/cuemby/ftb/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindServerFlagsOnlyChanged(t *testing.T) {
	require.NoError(t, serverCmd.Flags().Set("api-addr", "0.0.0.0:7000"))
	t.Cleanup(func() {
		f := serverCmd.Flags().Lookup("api-addr")
		f.Changed = false
		_ = f.Value.Set(f.DefValue)
	})
	t.Setenv("FTB_DATA_DIR", "/tmp/ftb-env")

	v := config.New()
	require.NoError(t, bindServerFlags(serverCmd, v))

	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.APIAddr)
	assert.Equal(t, "/tmp/ftb-env", cfg.DataDir, "unset flags do not mask the environment")
}
