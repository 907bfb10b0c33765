// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/LeeDigitalWorks/zapmap/cmd"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	// Without SENTRY_DSN the client is a no-op
	if err := sentry.Init(sentry.ClientOptions{
		Release:          "zapmap@" + cmd.Version,
		Environment:      os.Getenv("ZAPMAP_ENVIRONMENT"),
		SampleRate:       0.1,
		AttachStacktrace: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "sentry: %v\n", err)
	}

	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(sentryFlushTimeout)
			panic(r)
		}
	}()

	err := cmd.Execute()
	sentry.Flush(sentryFlushTimeout)
	if err != nil {
		os.Exit(1)
	}
}
