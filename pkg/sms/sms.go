// Package sms sends plain text messages to travellers' phones.
package sms

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender delivers one SMS and returns the gateway's message id
type Sender interface {
	Send(ctx context.Context, msisdn, message string) (string, error)
	Name() string
}

// LogSender only logs messages; used in development
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a sender that writes messages to the log
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msisdn, message string) (string, error) {
	s.logger.WithFields(logrus.Fields{
		"msisdn":  msisdn,
		"message": message,
	}).Info("SMS (dev mode, not sent)")
	return "dev-" + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

func (s *LogSender) Name() string {
	return "log"
}
