// Package archive persists message outcomes to PostgreSQL for audit.
// Writes run on a dedicated goroutine fed by a bounded queue so the
// consumer never blocks on the database.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/protocol"
	"main/pkg/conn"
)

// Outcome classifies how a message left the consumer.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeRequeued Outcome = "requeued"
)

// Record is one archived message outcome.
type Record struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID  string    `gorm:"size:32;index"`
	Broker     string    `gorm:"size:64"`
	Topic      string    `gorm:"size:64;index"`
	Channel    string    `gorm:"size:64"`
	Attempts   uint16
	Outcome    Outcome `gorm:"size:16"`
	DelayMS    int64
	BodyBytes  int
	ConsumedAt time.Time `gorm:"index"`
}

// TableName pins the table used by AutoMigrate and inserts.
func (Record) TableName() string { return "message_outcomes" }

// Sink owns the queue, the writer goroutine and the database client.
type Sink struct {
	topic   string
	channel string
	db      *gorm.DB
	q       *queue

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewSink migrates the outcome table and starts the writer goroutine.
// queueSize bounds how many outcomes can be pending; overflow drops
// with a warning rather than stalling the caller.
func NewSink(client *conn.Client, topic, channel string, queueSize int) (*Sink, error) {
	db := client.DB()
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		topic:   topic,
		channel: channel,
		db:      db,
		q:       newQueue(queueSize),
		cancel:  cancel,
	}
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.q.run(ctx, s.write)
	}()
	return s, nil
}

// OnFinish adapts the sink to the reader's finish hook.
func (s *Sink) OnFinish(addr string, msg *protocol.Message) {
	s.publish(addr, msg, OutcomeFinished, 0)
}

// OnRequeue adapts the sink to the reader's requeue hook.
func (s *Sink) OnRequeue(addr string, msg *protocol.Message, delay time.Duration) {
	s.publish(addr, msg, OutcomeRequeued, delay.Milliseconds())
}

func (s *Sink) publish(addr string, msg *protocol.Message, outcome Outcome, delayMS int64) {
	rec := Record{
		MessageID:  msg.ID.String(),
		Broker:     addr,
		Topic:      s.topic,
		Channel:    s.channel,
		Attempts:   msg.Attempts,
		Outcome:    outcome,
		DelayMS:    delayMS,
		BodyBytes:  len(msg.Body),
		ConsumedAt: time.Now(),
	}
	if err := s.q.tryPublish(rec); err != nil {
		logs.Warnf("archive: dropping outcome for message %s, err: %v", rec.MessageID, err)
	}
}

func (s *Sink) write(rec Record) {
	if err := s.db.Create(&rec).Error; err != nil {
		logs.Errorf("archive: insert outcome for message %s failed, err: %v", rec.MessageID, err)
	}
}

// Close stops accepting outcomes, drains what is buffered and waits
// for the writer to exit.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.q.close()
	s.done.Wait()
	s.cancel()
}
