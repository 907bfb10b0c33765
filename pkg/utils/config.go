// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// ConfigurationFileDirectory is searched before the default locations
var ConfigurationFileDirectory string

var configSearchPaths = []string{".", "$HOME/.zapmap", "/usr/local/etc/zapmap/", "/etc/zapmap/"}

// LoadConfiguration merges the first <name>.{yaml,json,toml} found into the
// global viper instance and enables environment overrides ("a.b" reads
// A_B). A missing or broken file is fatal only when required. It reports
// whether a file was loaded.
func LoadConfiguration(name string, required bool) bool {
	viper.SetConfigName(name)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	for _, p := range configSearchPaths {
		viper.AddConfigPath(p)
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.MergeInConfig()
	if err == nil {
		logger.Info().Str("file", viper.ConfigFileUsed()).Msg("loaded config file")
		return true
	}

	var notFound viper.ConfigFileNotFoundError
	event := logger.Warn().Err(err)
	switch {
	case required:
		event = logger.Fatal().Err(err)
	case errors.As(err, &notFound):
		event = logger.Info()
	}
	event.Str("name", name).Msg("config file not loaded")
	return false
}

// ResolvePath expands a leading ~ to the user's home directory
func ResolvePath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
