package broker

import (
	"encoding/json"

	"github.com/avvvet/kanban-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Forwarder receives card events that originated on other instances.
type Forwarder interface {
	Notify(event comm.CardEvent)
}

// Broker shares card events between service instances over NATS.
type Broker struct {
	Conn       *nats.Conn
	Subject    string
	InstanceId string
	Forward    Forwarder
}

func NewBroker(nc *nats.Conn, subject, instanceId string, forward Forwarder) *Broker {
	return &Broker{
		Conn:       nc,
		Subject:    subject,
		InstanceId: instanceId,
		Forward:    forward,
	}
}

// Notify publishes a locally produced event for the other instances.
func (b *Broker) Notify(event comm.CardEvent) {
	if b.Conn == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("unable to marshal card event %s: %v", event.Type, err)
		return
	}

	b.Publish(b.Subject, payload)
}

// consume card events from other instances
func (b *Broker) Subscribe() (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(b.Subject, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	event := comm.CardEvent{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Errorf("Error decoding card event on %s: %s", msg.Subject, err)
		return
	}

	// our own publications come back on the same subject
	if event.Instance == b.InstanceId {
		return
	}

	switch event.Type {
	case comm.EventCardCreated, comm.EventCardsReplaced, comm.EventCardUpdated, comm.EventCardDeleted:
		log.Debugf("card event %s from instance %s", event.Type, event.Instance)
		if b.Forward != nil {
			b.Forward.Notify(event)
		}
	default:
		log.Warnf("unknown card event type: %s", event.Type)
	}
}
