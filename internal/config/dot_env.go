package config

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/subosito/gotenv"
)

// DotEnvTryLoad forcefully overrides ENV variables through **a maybe available** .env file.
//
// This function is meant for local development only and silently ignores a missing file.
func DotEnvTryLoad(absolutePathToEnvFile string) {
	if _, err := os.Stat(absolutePathToEnvFile); err != nil {
		return
	}

	if err := gotenv.OverLoad(absolutePathToEnvFile); err != nil {
		log.Warn().Err(err).Str("file", absolutePathToEnvFile).Msg("Failed to apply .env file")
		return
	}

	log.Warn().Str("file", absolutePathToEnvFile).Msg("Applied .env file, overriding ENV variables")
}
