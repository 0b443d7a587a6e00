package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hearthschool/gradebook/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging(""))
	require.NotNil(t, logger.Logger())

	require.NoError(t, ConfigureLogging("debug"))
	require.NotNil(t, logger.WithModule("test"))
}
