// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"strings"
)

// ConfigValidationError represents a configuration validation error
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigValidationResult contains the results of configuration validation
type ConfigValidationResult struct {
	Valid    bool
	Errors   []ConfigValidationError
	Warnings []string
}

// AddError adds an error to the result
func (r *ConfigValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ConfigValidationError{Field: field, Message: message})
}

// AddWarning adds a warning to the result
func (r *ConfigValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Merge folds other into r, prefixing field names
func (r *ConfigValidationResult) Merge(prefix string, other *ConfigValidationResult) {
	for _, e := range other.Errors {
		r.AddError(prefix+"."+e.Field, e.Message)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns the validation errors joined into one error, or nil
func (r *ConfigValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// ValidatePool validates a storage pool configuration
func ValidatePool(pool *StoragePool) *ConfigValidationResult {
	result := &ConfigValidationResult{Valid: true}

	if strings.TrimSpace(string(pool.ID)) == "" {
		result.AddError("id", "pool ID cannot be empty")
	}
	if pool.Weight < 0 {
		result.AddError("weight", "weight cannot be negative")
	} else if pool.Weight == 0 {
		result.AddWarning(fmt.Sprintf("pool %q has zero weight and is only chosen when all weights are zero", pool.ID))
	}

	return result
}

// ValidateTieringPolicy checks the policy's shape and that every referenced
// pool exists in pools.
func ValidateTieringPolicy(policy *TieringPolicy, pools map[PoolID]*StoragePool) *ConfigValidationResult {
	result := &ConfigValidationResult{Valid: true}

	if strings.TrimSpace(string(policy.ID)) == "" {
		result.AddError("id", "tiering ID cannot be empty")
	}
	if policy.Replicas < 0 {
		result.AddError("replicas", "replicas cannot be negative")
	}
	if policy.DataFrags < 0 {
		result.AddError("data_frags", "data fragments cannot be negative")
	}
	if policy.ParityFrags < 0 {
		result.AddError("parity_frags", "parity fragments cannot be negative")
	}
	if len(policy.Pools) == 0 {
		result.AddError("pools", "at least one pool is required")
	}

	seen := make(map[PoolID]bool, len(policy.Pools))
	for i, t := range policy.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		if seen[t.PoolID] {
			result.AddError(field, fmt.Sprintf("duplicate pool %q", t.PoolID))
		}
		seen[t.PoolID] = true
		if _, ok := pools[t.PoolID]; !ok {
			result.AddError(field, fmt.Sprintf("unknown pool %q", t.PoolID))
		}
		if t.WeightOverride < 0 {
			result.AddError(field+".weight_override", "weight override cannot be negative")
		}
	}

	return result
}
