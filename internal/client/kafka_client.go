package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

type KafkaProducer struct {
	Writer  *kafka.Writer
	brokers []string
	dialer  *kafka.Dialer
}

// NewKafkaProducer builds a synchronous writer. Topics are chosen per message.
func NewKafkaProducer(cfg *config.Config) (*KafkaProducer, error) {
	kc := cfg.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	dialer := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}
	if util.GetEnv("KAFKA_TLS", "") == "true" {
		dialer.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.IsDevelopment(),
		}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{TLS: dialer.TLS},
	}

	p := &KafkaProducer{Writer: writer, brokers: kc.Brokers, dialer: dialer}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		_ = writer.Close()
		return nil, err
	}

	util.Info("Kafka producer initialized", zap.Strings("brokers", kc.Brokers))
	return p, nil
}

func (p *KafkaProducer) Close() error {
	if p.Writer == nil {
		return nil
	}
	if err := p.Writer.Close(); err != nil {
		util.Error("failed to close Kafka producer", zap.Error(err))
		return err
	}
	util.Info("Kafka producer closed")
	return nil
}

// Publish writes one keyed message. Messages with the same key keep their
// relative order.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	util.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.Int("value_size", len(value)))
	return nil
}

// HealthCheck dials the first broker and lists partitions.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read Kafka partitions: %w", err)
	}
	return nil
}
