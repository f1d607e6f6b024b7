package mq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"DeadManSwitch/config"
	"DeadManSwitch/pkg/logger"
)

// 拓扑：通知按 notification.<channel> 路由到投递队列，领域事件各自一个队列
const (
	NotificationExchange = "notification.topic"
	EventsExchange       = "events.topic"

	NotificationDeliverQueue = "notification.deliver"
	SwitchTriggeredQueue     = "events.switch.triggered"

	notificationBinding    = "notification.*"
	switchTriggeredBinding = "events.switch.triggered"
)

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

func Init() error {
	connOnce.Do(func() {
		conn, connErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if connErr != nil {
			return
		}

		ch, err := conn.Channel()
		if err != nil {
			connErr = fmt.Errorf("open topology channel: %w", err)
			return
		}
		defer ch.Close()

		connErr = declareTopology(ch)
	})
	return connErr
}

func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []string{NotificationExchange, EventsExchange} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	bindings := []struct {
		queue, exchange, key string
	}{
		{NotificationDeliverQueue, NotificationExchange, notificationBinding},
		{SwitchTriggeredQueue, EventsExchange, switchTriggeredBinding},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}

	logger.Logger.Info("RabbitMQ topology declared",
		zap.Strings("queues", []string{NotificationDeliverQueue, SwitchTriggeredQueue}),
	)
	return nil
}

func Connection() *amqp.Connection {
	return conn
}

func Close() error {
	pubMutex.Lock()
	if publisherCh != nil {
		_ = publisherCh.Close()
		publisherCh = nil
	}
	pubMutex.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
