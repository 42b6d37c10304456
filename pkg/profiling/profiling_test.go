package profiling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"apextrade-backend/pkg/config"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{AppName: "apextrade", AppEnv: "staging"}
	cfg.Pyroscope.Addr = "http://pyroscope:4040"

	pc := NewConfig(cfg)
	require.Equal(t, "apextrade", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Equal(t, "staging", pc.Tags["env"])
}
