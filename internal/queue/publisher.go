package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// Publisher sends booking confirmations to BookingQueue.  It dials per
// message, so a broker outage only costs the notification.
type Publisher struct {
	url string
	log *log.Logger
}

func NewPublisher(url string, lg *log.Logger) *Publisher {
	if lg == nil {
		lg = log.New("amqp")
	}
	return &Publisher{url: url, log: lg}
}

// BookingConfirmed publishes a persistent BookingConfirmedEvent.
func (p *Publisher) BookingConfirmed(ctx context.Context, ev model.Event, b model.Booking) error {
	body, err := json.Marshal(NewBookingConfirmed(ev, b))
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(3 * time.Second),
	})
	if err != nil {
		p.log.Warnf("dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warnf("channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(BookingQueue, true, false, false, false, nil); err != nil {
		p.log.Warnf("queue declare failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    b.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", BookingQueue, false, false, pub); err != nil {
		p.log.Warnf("publish failed: %v", err)
		return err
	}
	p.log.Debugf("booking %s published", b.ID)
	return nil
}
