package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/streadway/amqp"
)

var (
	host     = flag.String("host", "127.0.0.1", "rabbitmq host")
	port     = flag.Int("port", 5672, "rabbitmq port")
	user     = flag.String("user", "guest", "rabbitmq username")
	password = flag.String("password", "guest", "rabbitmq password")
	exchange = flag.String("exchange", "game-audit", "audit exchange")
	pattern  = flag.String("pattern", "audit.#", "routing key pattern")
)

// 审计流消费端，调试时把审计事件打到终端
func main() {
	flag.Parse()

	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		url.QueryEscape(*user), url.QueryEscape(*password), *host, *port)

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Fatalf("连接RabbitMQ失败: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("创建通道失败: %v", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(*exchange, "topic", true, false, false, false, nil); err != nil {
		log.Fatalf("声明交换机失败: %v", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		log.Fatalf("声明队列失败: %v", err)
	}
	if err := ch.QueueBind(q.Name, *pattern, *exchange, false, nil); err != nil {
		log.Fatalf("绑定队列失败: %v", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		log.Fatalf("注册消费者失败: %v", err)
	}

	log.Printf("监听审计事件: exchange=%s pattern=%s", *exchange, *pattern)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-stop:
			log.Println("已停止")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("消息通道已关闭")
				return
			}
			log.Printf("[%s] %s", msg.RoutingKey, string(msg.Body))
		}
	}
}
