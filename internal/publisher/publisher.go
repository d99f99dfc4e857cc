package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopforge/portal-agent/pkg/model"
)

// Publisher emits session events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt model.SessionEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.SessionEvent) error { return nil }
func (Nop) Close() error                                    { return nil }

// headers are attached to every published event regardless of the broker.
func headers(evt model.SessionEvent, service string) map[string]string {
	return map[string]string{
		"event_id":     evt.ID.String(),
		"event_type":   string(evt.Type),
		"service":      service,
		"store_slug":   evt.StoreSlug,
		"content_type": "application/json",
	}
}

func encode(evt model.SessionEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.Type, err)
	}
	return data, nil
}

// Multi sends every event to each publisher in turn. All are attempted even
// when one fails; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt model.SessionEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
