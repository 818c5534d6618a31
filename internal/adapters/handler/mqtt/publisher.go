package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

const defaultPrefix = "tgnms"

// Publisher fans result messages out to an MQTT broker, one topic per
// network and query type.
type Publisher struct {
	client mqtt.Client
	prefix string
}

var _ ports.ResultPublisher = (*Publisher)(nil)

// NewPublisher connects to the broker.
func NewPublisher(brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("tgnms-poller-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL)
	return &Publisher{
		client: client,
		prefix: defaultPrefix,
	}, nil
}

// Topic: tgnms/{network}/{query type}
func (p *Publisher) Topic(msg domain.ResultMessage) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, msg.Name, msg.Type)
}

func (p *Publisher) PublishResult(ctx context.Context, msg domain.ResultMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(msg), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
