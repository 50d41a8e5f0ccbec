// Package rabbitmq wraps the AMQP connection and the kitchen dispatch
// topology: a topic exchange for kitchen routing, a fanout for order
// lifecycle events, and a dead-letter setup for poisoned messages.
package rabbitmq

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"restohub/internal/domain"
)

const (
	KitchenExchange = "kitchen_topic"
	EventsExchange  = "order_events_fanout"
	DLXExchange     = "dlx"
	KitchenQueue    = "kitchen.q"
	EventsQueue     = "order_events.q"
	DLQQueue        = "dlq"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string // default "/"
	UseTLS   bool
}

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation // publisher confirms
	mu   sync.Mutex               // serializes Publish while waiting on confirms
}

func Dial(cfg Config) (*Client, error) {
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	scheme := "amqp"
	if cfg.UseTLS {
		scheme = "amqps"
	}
	url := fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme, cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)

	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.UseTLS {
		conn, err = amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(url)
	}
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// DeclareTopology declares exchanges, queues and bindings. Idempotent.
func (c *Client) DeclareTopology() error {
	if c == nil || c.ch == nil {
		return fmt.Errorf("nil channel")
	}
	if err := c.ch.ExchangeDeclare(KitchenExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(KitchenQueue, true, false, false, false, amqp.Table{
		"x-max-priority":            int32(10),
		"x-dead-letter-exchange":    DLXExchange,
		"x-dead-letter-routing-key": DLQQueue,
	}); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(DLQQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.QueueBind(KitchenQueue, "kitchen.*.*", KitchenExchange, false, nil); err != nil {
		return err
	}
	if err := c.ch.QueueBind(EventsQueue, "", EventsExchange, false, nil); err != nil {
		return err
	}
	return nil
}

// publish sends one persistent message and waits for the broker's confirm.
func (c *Client) publish(ctx context.Context, exchange, key string, priority uint8, body []byte, headers amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Priority:     priority,
			Headers:      headers,
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case conf := <-c.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchKitchen routes an order into the kitchen pipeline. The routing
// key carries tenant and priority so workers can specialize.
func (c *Client) DispatchKitchen(ctx context.Context, msg domain.KitchenDispatch) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal kitchen dispatch: %w", err)
	}
	key := fmt.Sprintf("kitchen.%s.%d", msg.Tenant, msg.Priority)
	return c.publish(ctx, KitchenExchange, key, uint8(msg.Priority), body, amqp.Table{
		"x-source": "order-service",
		"x-tenant": msg.Tenant,
	})
}

// PublishEvent fans out an order lifecycle event to every bound subscriber.
func (c *Client) PublishEvent(ctx context.Context, tenant string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.publish(ctx, EventsExchange, "", 0, body, amqp.Table{
		"x-tenant": tenant,
	})
}
