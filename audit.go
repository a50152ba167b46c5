package authcore

import (
	"io"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/internal/audit"
)

type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs events on log under the "audit" name.
func NewZapSink(log *zap.Logger) *ZapSink {
	return audit.NewZapSink(log)
}
