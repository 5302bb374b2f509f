package data

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"avalanche/internal/biz"
	"avalanche/internal/conf"

	"github.com/streadway/amqp"
	"github.com/yola1107/kratos/v2/log"
)

// Broker 审计流的rabbitmq出口。通道非并发安全，发布走互斥锁。
type Broker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQ .
func NewRabbitMQ(c *conf.Data, logger log.Logger) (*Broker, func(), error) {
	if c.Rabbitmq == nil || c.Rabbitmq.Host == "" {
		log.NewHelper(logger).Warn("rabbitmq disabled, audit events will be dropped")
		return &Broker{}, func() {}, nil
	}
	addr := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Rabbitmq.Username),
		url.QueryEscape(c.Rabbitmq.Password),
		c.Rabbitmq.Host, c.Rabbitmq.Port,
		url.QueryEscape(c.Rabbitmq.Vhost))
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	exchange := c.Rabbitmq.Exchange
	if exchange == "" {
		exchange = "game-audit"
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	b := &Broker{conn: conn, ch: ch, exchange: exchange}
	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ch.Close()
		conn.Close()
	}
	return b, cleanup, nil
}

func (b *Broker) publish(routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return nil
	}
	return b.ch.Publish(b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

type auditRepo struct {
	data *Data
	log  *log.Helper
}

// NewAuditRepo .
func NewAuditRepo(data *Data, logger log.Logger) biz.AuditRepo {
	return &auditRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *auditRepo) Publish(ctx context.Context, ev *biz.AuditEvent) error {
	body, err := cjson.Marshal(ev)
	if err != nil {
		return err
	}
	return r.data.mq.publish("audit."+ev.Kind, body)
}
