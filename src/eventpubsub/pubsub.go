package eventpubsub

import (
	"github.com/asaskevich/EventBus"
	log "github.com/sirupsen/logrus"
)

// PubSub is an instance-scoped event bus. Each session constructs its own so
// there is no process-wide mutable registry shared between clients.
type PubSub struct {
	bus EventBus.Bus
}

func New() *PubSub {
	return &PubSub{bus: EventBus.New()}
}

func (p *PubSub) Publish(topic string, args ...interface{}) {
	p.bus.Publish(topic, args...)
}

func (p *PubSub) Subscribe(topic string, callbackFn interface{}) error {
	if err := p.bus.Subscribe(topic, callbackFn); err != nil {
		return err
	}

	log.Debugf("subscribed to topic %s", topic)
	return nil
}

func (p *PubSub) Unsubscribe(topic string, callbackFn interface{}) error {
	return p.bus.Unsubscribe(topic, callbackFn)
}

// PublishError reports a handler failure without interrupting the caller.
func (p *PubSub) PublishError(source string, err error) {
	log.WithField("source", source).Error(err)
	p.bus.Publish(TopicListenerError, source, err)
}
