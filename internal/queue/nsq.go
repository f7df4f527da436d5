package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
)

type NSQConfig struct {
	Topic       string
	Channel     string
	MaxInFlight int
	MaxAttempts int
	MsgTimeout  time.Duration
}

// NSQSource adapts an nsq.Consumer to a Source. Messages are handed to
// workers unanswered; the worker settles them. go-nsq counts attempts and
// calls LogFailedMessage once a message exceeds MaxAttempts.
type NSQSource struct {
	consumer   *nsq.Consumer
	topic      string
	deadLetter DeadLetter
	deliveries chan Delivery
	done       chan struct{}
	stopOnce   sync.Once
}

func NewNSQSource(cfg NSQConfig, deadLetter DeadLetter) (*NSQSource, error) {
	nsqCfg := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		nsqCfg.MaxInFlight = cfg.MaxInFlight
	}
	if cfg.MaxAttempts > 0 {
		nsqCfg.MaxAttempts = uint16(cfg.MaxAttempts)
	}
	if cfg.MsgTimeout > 0 {
		nsqCfg.MsgTimeout = cfg.MsgTimeout
	}

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)

	s := &NSQSource{
		consumer:   consumer,
		topic:      cfg.Topic,
		deadLetter: deadLetter,
		deliveries: make(chan Delivery),
		done:       make(chan struct{}),
	}
	consumer.AddHandler(s)
	return s, nil
}

func (s *NSQSource) ConnectToNSQLookupd(addr string) error {
	return s.consumer.ConnectToNSQLookupd(addr)
}

func (s *NSQSource) ConnectToNSQD(addr string) error {
	return s.consumer.ConnectToNSQD(addr)
}

func (s *NSQSource) Deliveries() <-chan Delivery { return s.deliveries }

// HandleMessage implements nsq.Handler.
func (s *NSQSource) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	select {
	case s.deliveries <- &nsqDelivery{msg: m}:
	case <-s.done:
		m.RequeueWithoutBackoff(0)
	}
	return nil
}

// LogFailedMessage implements the go-nsq failed message hook. go-nsq
// finishes the message after this returns.
func (s *NSQSource) LogFailedMessage(m *nsq.Message) {
	reason := fmt.Sprintf("exceeded %d delivery attempts", m.Attempts-1)
	slog.Error("discarding message", "topic", s.topic, "attempts", m.Attempts, "reason", reason)
	if s.deadLetter == nil {
		return
	}
	if err := s.deadLetter.Record(context.Background(), s.topic, m.Body, reason); err != nil {
		slog.Error("failed to record dead letter", "topic", s.topic, "error", err)
	}
}

func (s *NSQSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.consumer.Stop()
		<-s.consumer.StopChan
	})
}

type nsqDelivery struct {
	msg *nsq.Message
}

func (d *nsqDelivery) Body() []byte  { return d.msg.Body }
func (d *nsqDelivery) Attempts() int { return int(d.msg.Attempts) }
func (d *nsqDelivery) Ack()          { d.msg.Finish() }
func (d *nsqDelivery) Discard()      { d.msg.Finish() }

func (d *nsqDelivery) Requeue(delay time.Duration) {
	d.msg.RequeueWithoutBackoff(delay)
}

// NSQPublisher publishes through an nsq.Producer.
type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(addr string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	producer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) Publish(topic string, body []byte) error {
	return p.producer.Publish(topic, body)
}

func (p *NSQPublisher) Stop() { p.producer.Stop() }

// nsqLogger routes go-nsq's log lines into slog.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	slog.Warn("nsq", "message", s)
	return nil
}
