// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the zapmap commands.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagLoader reads flat options for commands without a nested config
// struct. A flag given on the command line wins; otherwise viper decides
// (environment, then config file, then the flag default).
type FlagLoader struct {
	flags *pflag.FlagSet
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{flags: cmd.Flags()}
}

func lookup[T any](f *FlagLoader, name string, get func(string) (T, error), fromViper func(string) T) T {
	if !f.flags.Changed(name) && viper.IsSet(name) {
		return fromViper(name)
	}
	// Unknown flags yield the zero value.
	v, _ := get(name)
	return v
}

func (f *FlagLoader) String(name string) string {
	return lookup(f, name, f.flags.GetString, viper.GetString)
}

func (f *FlagLoader) Int(name string) int {
	return lookup(f, name, f.flags.GetInt, viper.GetInt)
}

func (f *FlagLoader) Bool(name string) bool {
	return lookup(f, name, f.flags.GetBool, viper.GetBool)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	return lookup(f, name, f.flags.GetDuration, viper.GetDuration)
}

func (f *FlagLoader) StringSlice(name string) []string {
	return lookup(f, name, f.flags.GetStringSlice, viper.GetStringSlice)
}
