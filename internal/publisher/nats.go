package publisher

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/metrics"
	"github.com/shopforge/portal-agent/pkg/model"
)

// NATSPublisher publishes session events to JetStream under <prefix>.<event type>.
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string
	service string
	logger  *zap.Logger
}

// NewNATS connects to url and enables JetStream.
func NewNATS(logger *zap.Logger, url, prefix, service string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(service),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, prefix: prefix, service: service, logger: logger}, nil
}

// Subject returns the subject an event of type t is published on.
func (p *NATSPublisher) Subject(t model.SessionEventType) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt model.SessionEvent) error {
	data, err := encode(evt)
	if err != nil {
		metrics.IncPublishError("nats")
		return err
	}

	msg := &nats.Msg{
		Subject: p.Subject(evt.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	for k, v := range headers(evt, p.service) {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(nats.MsgIdHdr, evt.ID.String())

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		metrics.IncPublishError("nats")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", msg.Subject),
		zap.String("event_id", evt.ID.String()))
	return nil
}

// Connected reports broker connectivity for health checks.
func (p *NATSPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil && p.nc.IsConnected() {
		return p.nc.Drain()
	}
	return nil
}
