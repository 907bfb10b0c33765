// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one Kafka broker is required")
}

func TestKafkaPublisher_Name(t *testing.T) {
	t.Parallel()

	pub := &KafkaPublisher{topic: "test"}
	assert.Equal(t, "kafka", pub.Name())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != DefaultKafkaTopic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "photos" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "application/json" {
			return errors.New("missing content-type header")
		}
		return nil
	})

	pub := newKafkaPublisher(producer, DefaultKafkaTopic)
	err := pub.Publish(context.Background(), "photos", []byte(`{"eventName":"chunk.build.completed"}`))
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))

	pub := newKafkaPublisher(producer, DefaultKafkaTopic)
	err := pub.Publish(context.Background(), "photos", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka publish")
	assert.Contains(t, err.Error(), "broker unavailable")
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CloseWithoutProducer(t *testing.T) {
	t.Parallel()

	pub := &KafkaPublisher{}
	assert.NoError(t, pub.Close())
}

func TestSaramaConfig_Compression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		compression string
		expected    sarama.CompressionCodec
	}{
		{"gzip", sarama.CompressionGZIP},
		{"snappy", sarama.CompressionSnappy},
		{"lz4", sarama.CompressionLZ4},
		{"zstd", sarama.CompressionZSTD},
		{"none", sarama.CompressionNone},
		{"", sarama.CompressionNone},
		{"unknown", sarama.CompressionSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.compression, func(t *testing.T) {
			t.Parallel()
			cfg := saramaConfig(KafkaConfig{Compression: tt.compression})
			assert.Equal(t, tt.expected, cfg.Producer.Compression)
		})
	}
}

func TestSaramaConfig_RequiredAcks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		acks     int
		expected sarama.RequiredAcks
	}{
		{0, sarama.NoResponse},
		{1, sarama.WaitForLocal},
		{-1, sarama.WaitForAll},
		{99, sarama.WaitForLocal},
	}

	for _, tt := range tests {
		cfg := saramaConfig(KafkaConfig{RequiredAcks: tt.acks})
		assert.Equal(t, tt.expected, cfg.Producer.RequiredAcks, "acks=%d", tt.acks)
	}
}

func TestSaramaConfig_SASL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mechanism string
		expected  sarama.SASLMechanism
		scram     bool
	}{
		{"PLAIN", sarama.SASLTypePlaintext, false},
		{"SCRAM-SHA-256", sarama.SASLTypeSCRAMSHA256, true},
		{"SCRAM-SHA-512", sarama.SASLTypeSCRAMSHA512, true},
	}

	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			t.Parallel()
			cfg := saramaConfig(KafkaConfig{
				SASLMechanism: tt.mechanism,
				SASLUsername:  "builder",
				SASLPassword:  "secret",
			})
			assert.True(t, cfg.Net.SASL.Enable)
			assert.Equal(t, "builder", cfg.Net.SASL.User)
			assert.Equal(t, tt.expected, cfg.Net.SASL.Mechanism)
			if tt.scram {
				require.NotNil(t, cfg.Net.SASL.SCRAMClientGeneratorFunc)
				client := cfg.Net.SASL.SCRAMClientGeneratorFunc()
				require.NoError(t, client.Begin("builder", "secret", ""))
				first, err := client.Step("")
				require.NoError(t, err)
				assert.Contains(t, first, "n=builder")
				assert.False(t, client.Done())
			}
		})
	}

	cfg := saramaConfig(KafkaConfig{})
	assert.False(t, cfg.Net.SASL.Enable)
}

func TestSaramaConfig_TLSAndTimeouts(t *testing.T) {
	t.Parallel()

	def := DefaultConfig().Kafka
	def.TLS = true
	def.TLSSkipVerify = true

	cfg := saramaConfig(def)
	assert.True(t, cfg.Net.TLS.Enable)
	require.NotNil(t, cfg.Net.TLS.Config)
	assert.True(t, cfg.Net.TLS.Config.InsecureSkipVerify)
	assert.Equal(t, def.WriteTimeout, cfg.Producer.Timeout)
	assert.Equal(t, def.BatchSize, cfg.Producer.Flush.MaxMessages)
	assert.Equal(t, def.BatchTimeout, cfg.Producer.Flush.Frequency)
	assert.True(t, cfg.Producer.Return.Successes)
}
