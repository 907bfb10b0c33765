// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes map build outcomes to external subscribers.
//
// The Emitter is the builder's Notifier: it turns every finished batch into
// one build_event task per chunk. The DeliveryHandler drains those tasks
// and hands each event to the configured publishers (Kafka, Redis Pub/Sub).
// Delivery is at-least-once; a publisher failure retries the task.
package events

import (
	"errors"
	"time"
)

const (
	DefaultRedisChannel = "zapmap:builds"
	DefaultKafkaTopic   = "zapmap-builds"
)

// Config holds build event configuration.
type Config struct {
	// Enabled controls whether build outcomes are queued at all.
	Enabled bool `mapstructure:"enabled"`

	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Channel is the channel prefix. Events are published to
	// "{channel}:{bucket}".
	Channel string `mapstructure:"channel"`

	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512. SASL is off
	// when SASLUsername is empty.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Channel:      DefaultRedisChannel,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        DefaultKafkaTopic,
			RequiredAcks: 1,
			Compression:  "snappy",
			BatchSize:    100,
			BatchTimeout: time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// orDefault replaces a non-positive or empty *v with def
func orDefault[T int | time.Duration | string](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
		return
	}
	switch x := any(*v).(type) {
	case int:
		if x < 0 {
			*v = def
		}
	case time.Duration:
		if x < 0 {
			*v = def
		}
	}
}

// Validate fills unset values from DefaultConfig and rejects settings no
// publisher can run with.
func (c *Config) Validate() error {
	def := DefaultConfig()

	r, dr := &c.Redis, def.Redis
	orDefault(&r.Addr, dr.Addr)
	orDefault(&r.Channel, dr.Channel)
	orDefault(&r.PoolSize, dr.PoolSize)
	orDefault(&r.DialTimeout, dr.DialTimeout)
	orDefault(&r.ReadTimeout, dr.ReadTimeout)
	orDefault(&r.WriteTimeout, dr.WriteTimeout)

	k, dk := &c.Kafka, def.Kafka
	orDefault(&k.Topic, dk.Topic)
	orDefault(&k.Compression, dk.Compression)
	orDefault(&k.BatchSize, dk.BatchSize)
	orDefault(&k.BatchTimeout, dk.BatchTimeout)
	orDefault(&k.WriteTimeout, dk.WriteTimeout)
	// 0 (no acks) is a valid setting
	if _, ok := kafkaAcks[k.RequiredAcks]; !ok {
		k.RequiredAcks = dk.RequiredAcks
	}

	if k.Enabled && len(k.Brokers) == 0 {
		return errors.New("events: kafka enabled without brokers")
	}
	return nil
}

// HasPublishers reports whether any publisher is enabled
func (c *Config) HasPublishers() bool {
	return c.Redis.Enabled || c.Kafka.Enabled
}
