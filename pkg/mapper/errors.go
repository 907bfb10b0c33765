// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var (
	// ErrNoNodeAvailable means an allocation found no eligible node
	ErrNoNodeAvailable = errors.New("no node available for allocation")
	// ErrNoSource means a fragment has no accessible block to copy from
	ErrNoSource = errors.New("no accessible source block")
	// ErrReplicationFailed wraps a failed replicate call
	ErrReplicationFailed = errors.New("block replication failed")
	// ErrPreconditionFailed aborts a batch before anything is written
	ErrPreconditionFailed = errors.New("map build precondition failed")
	// ErrBuildIncomplete is the aggregate error of a batch where some chunks failed
	ErrBuildIncomplete = errors.New("map build incomplete")
)

// ChunkError ties a per-chunk failure to its chunk
type ChunkError struct {
	Chunk types.ChunkID
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.Chunk, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// BuildError reports the chunks of a batch that could not be fully built.
// It matches ErrBuildIncomplete and every per-chunk cause with errors.Is.
type BuildError struct {
	Failed []types.ChunkID
	Errors *multierror.Error
}

func (e *BuildError) Error() string {
	if e.Errors == nil {
		return fmt.Sprintf("%v: %d chunk(s) failed", ErrBuildIncomplete, len(e.Failed))
	}
	return fmt.Sprintf("%v: %d chunk(s) failed: %s", ErrBuildIncomplete, len(e.Failed), e.Errors.Error())
}

func (e *BuildError) Unwrap() []error {
	errs := []error{ErrBuildIncomplete}
	if e.Errors != nil {
		errs = append(errs, e.Errors.WrappedErrors()...)
	}
	return errs
}

// ChunkErrors returns the errors recorded for one chunk
func (e *BuildError) ChunkErrors(id types.ChunkID) []error {
	if e.Errors == nil {
		return nil
	}
	var out []error
	for _, err := range e.Errors.WrappedErrors() {
		var ce *ChunkError
		if errors.As(err, &ce) && ce.Chunk == id {
			out = append(out, ce.Err)
		}
	}
	return out
}

func listFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
