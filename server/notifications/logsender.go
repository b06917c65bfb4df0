package notifications

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cyclopcam/logs"
)

// LogSender writes messages to the log instead of sending them.
// Used for dry runs, and when no SMS provider is configured.
type LogSender struct {
	log   logs.Log
	count atomic.Int64
}

func NewLogSender(logger logs.Log) *LogSender {
	return &LogSender{
		log: logger,
	}
}

func (s *LogSender) Send(ctx context.Context, body string) (string, error) {
	n := s.count.Add(1)
	s.log.Infof("SMS (dry run): %v", body)
	return fmt.Sprintf("dryrun-%v", n), nil
}
