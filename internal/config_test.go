package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "50051")
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	config, err := LoadConfig()

	req.NoError(err)
	req.Equal(50051, config.Port)
	req.Equal(30*time.Second, config.HeartbeatTimeout)
	req.Equal(5*time.Second, config.PresenceGraceWindow)
	req.Equal(4, config.AckWorkers)
	req.False(config.BroadcastsEnabled())
}

func TestLoadConfig_Rejects_Short_Secret(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "50051")
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("JWT_SECRET", "short")

	_, err := LoadConfig()

	req.ErrorContains(err, "JWT_SECRET")
}

func TestLoadConfig_Requires_Port(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := LoadConfig()

	require.Error(t, err)
}
