// Package notify delivers OTP codes to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/util"
)

// Notifier sends a code to a mobile number. Callers treat delivery as fire
// and forget: a returned error is logged, never shown to the requester.
type Notifier interface {
	Send(ctx context.Context, mobile, code string) error
}

// LogNotifier writes the code to the log. Development only.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) Send(_ context.Context, mobile, code string) error {
	util.Info("OTP delivery (log channel)",
		zap.String("mobile", mobile),
		zap.String("code", code))
	return nil
}

// Publisher is the part of client.KafkaProducer the SMS channel needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// SMSJob is the payload consumed by the SMS gateway worker.
type SMSJob struct {
	Mobile      string    `json:"mobile"`
	Code        string    `json:"code"`
	Template    string    `json:"template"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaNotifier queues SMS jobs on a topic, keyed by mobile number.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	now       func() time.Time
}

func NewKafkaNotifier(publisher Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic, now: time.Now}
}

func (n *KafkaNotifier) Send(ctx context.Context, mobile, code string) error {
	payload, err := json.Marshal(SMSJob{
		Mobile:      mobile,
		Code:        code,
		Template:    "otp",
		RequestedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms job: %w", err)
	}

	if err := n.publisher.Publish(ctx, n.topic, []byte(mobile), payload,
		map[string]string{"type": "otp"}); err != nil {
		return fmt.Errorf("failed to queue sms: %w", err)
	}
	util.Debug("SMS job queued", util.Mobile(mobile), zap.String("topic", n.topic))
	return nil
}
