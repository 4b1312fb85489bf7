package voice

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDefaultReconnectOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.ReconnectOptions()
	assert.Equal(t, DefaultReconnectOptions(), opts)
}

func TestLoadConfigOverridesOnlyGivenFields(t *testing.T) {
	yaml := `
reconnect:
  max_attempts: 5
`
	cfg, err := LoadConfig(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, uint32(5), cfg.Reconnect.MaxAttempts)
	assert.Equal(t, DefaultReconnectOptions().FirstBackoff, cfg.Reconnect.FirstBackoff)
	assert.Equal(t, 5*time.Second, cfg.IPDiscoveryTimeout)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("not: [valid"))
	assert.Error(t, err)
}

func TestLoadConfigEmptyReaderYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
