// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

var kafkaCodecs = map[string]sarama.CompressionCodec{
	"":       sarama.CompressionNone,
	"none":   sarama.CompressionNone,
	"gzip":   sarama.CompressionGZIP,
	"snappy": sarama.CompressionSnappy,
	"lz4":    sarama.CompressionLZ4,
	"zstd":   sarama.CompressionZSTD,
}

var kafkaAcks = map[int]sarama.RequiredAcks{
	0:  sarama.NoResponse,
	1:  sarama.WaitForLocal,
	-1: sarama.WaitForAll,
}

var contentTypeHeader = sarama.RecordHeader{
	Key:   []byte("content-type"),
	Value: []byte("application/json"),
}

// KafkaPublisher writes build events to one topic. Messages are keyed by
// bucket so a bucket's events land on one partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("kafka build event publisher ready")
	return newKafkaPublisher(producer, cfg.Topic), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// saramaConfig maps KafkaConfig onto a sync producer configuration.
// Unknown codecs fall back to snappy and unknown acks to the leader.
func saramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	codec, ok := kafkaCodecs[cfg.Compression]
	if !ok {
		codec = sarama.CompressionSnappy
	}
	sc.Producer.Compression = codec

	acks, ok := kafkaAcks[cfg.RequiredAcks]
	if !ok {
		acks = sarama.WaitForLocal
	}
	sc.Producer.RequiredAcks = acks

	if cfg.BatchSize > 0 {
		sc.Producer.Flush.MaxMessages = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		sc.Producer.Flush.Frequency = cfg.BatchTimeout
	}
	if t := cfg.WriteTimeout; t > 0 {
		sc.Producer.Timeout = t
		sc.Net.ReadTimeout = t
		sc.Net.WriteTimeout = t
	}

	if cfg.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}
	if cfg.SASLUsername != "" {
		configureSASL(sc, cfg)
	}
	return sc
}

func configureSASL(sc *sarama.Config, cfg KafkaConfig) {
	sc.Net.SASL.Enable = true
	sc.Net.SASL.User = cfg.SASLUsername
	sc.Net.SASL.Password = cfg.SASLPassword
	sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext

	var hash scram.HashGeneratorFcn
	switch cfg.SASLMechanism {
	case "SCRAM-SHA-256":
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		hash = scram.SHA256
	case "SCRAM-SHA-512":
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		hash = scram.SHA512
	default:
		return
	}
	sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
		return &scramClient{hash: hash}
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, key string, event []byte) error {
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(event),
		Headers: []sarama.RecordHeader{contentTypeHeader},
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("key", key).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("build event sent to kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// scramClient implements sarama.SCRAMClient on top of xdg-go/scram
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

func (c *scramClient) Begin(user, password, authzID string) error {
	client, err := c.hash.NewClient(user, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) { return c.conv.Step(challenge) }

func (c *scramClient) Done() bool { return c.conv.Done() }
