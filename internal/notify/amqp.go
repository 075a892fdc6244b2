package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes persistent JSON messages to a durable queue on the
// default exchange.
type AMQPNotifier struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	const op = "notify.NewAMQPNotifier"

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	n := &AMQPNotifier{url: url, queue: queue}
	if _, err := n.connection(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

const defaultDialTimeout = 5 * time.Second

// connection dials lazily and redials after the broker drops us. The dial
// runs outside the lock and is bounded by ctx, so a broker outage does not
// queue every caller behind one slow dial.
func (n *AMQPNotifier) connection(ctx context.Context) (*amqp.Connection, error) {
	n.mu.Lock()
	if n.conn != nil && !n.conn.IsClosed() {
		conn := n.conn
		n.mu.Unlock()
		return conn, nil
	}
	n.mu.Unlock()

	conn, err := n.dial(ctx)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	// another caller won the race
	if n.conn != nil && !n.conn.IsClosed() {
		_ = conn.Close()
		return n.conn, nil
	}

	n.conn = conn
	return conn, nil
}

func (n *AMQPNotifier) dial(ctx context.Context) (*amqp.Connection, error) {
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("dial: %w", context.DeadlineExceeded)
	}

	conn, err := amqp.DialConfig(n.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}

	return conn, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg Message) error {
	const op = "notify.AMQPNotifier.Notify"

	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	conn, err := n.connection(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// channels are not safe for concurrent use
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s: channel: %w", op, err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(msg.Kind),
		MessageId:    msg.RegistrationID + ":" + string(msg.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: publish: %w", op, err)
	}

	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	return n.conn.Close()
}
