package adapters

import (
	"context"

	"cutpro/internal/amqp"
	"cutpro/internal/core"
	"cutpro/internal/services"
)

// EventSink is the part of amqp.Client the publisher needs.
type EventSink interface {
	PublishEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// AMQPPublisher adapts an AMQP client to services.EventPublisher. A nil sink
// turns every publish into a no-op so the app runs without a broker.
type AMQPPublisher struct {
	sink EventSink
}

var _ services.EventPublisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher wraps client. Passing a nil *amqp.Client is allowed.
func NewAMQPPublisher(client *amqp.Client) *AMQPPublisher {
	if client == nil {
		return &AMQPPublisher{}
	}
	return &AMQPPublisher{sink: client}
}

func newPublisher(sink EventSink) *AMQPPublisher {
	return &AMQPPublisher{sink: sink}
}

// Enabled reports whether events actually leave the process.
func (p *AMQPPublisher) Enabled() bool {
	return p != nil && p.sink != nil
}

func (p *AMQPPublisher) PublishTransactionRecorded(ctx context.Context, t core.Transaction) error {
	return p.publish(ctx, amqp.EventTransactionRecorded, t.ID, t.OwnerID)
}

func (p *AMQPPublisher) PublishGoalCreated(ctx context.Context, g core.Goal) error {
	return p.publish(ctx, amqp.EventGoalCreated, g.ID, g.OwnerID)
}

func (p *AMQPPublisher) PublishAchievementUnlocked(ctx context.Context, a core.Achievement) error {
	return p.publish(ctx, amqp.EventAchievementUnlocked, a.ID, a.OwnerID)
}

func (p *AMQPPublisher) publish(ctx context.Context, t amqp.EventType, id, owner string) error {
	if !p.Enabled() {
		return nil
	}
	return p.sink.PublishEvent(ctx, amqp.NewLedgerEvent(t, id, owner))
}
