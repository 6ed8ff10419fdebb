// Package audit implements the observability log sink: WriteEvent for
// terminal decisions and WriteAccess for completed requests, Mongo-backed
// with an async broadcast channel for live tailing.
//
// Every entry is keyed by policy/rule id rather than a tenant user_id or
// domain_id, since this system has no authenticated tenant model of its
// own -- policies are files on disk, not rows owned by a signed-up user.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SecurityEvent records one terminal decision (Block/Challenge) or one Log
// verdict (a Log rule or a Cc hit with on_limit log) against a request.
type SecurityEvent struct {
	ID        interface{} `bson:"_id,omitempty" json:"id,omitempty"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	Host      string      `bson:"host" json:"host"`
	ClientIP  string      `bson:"client_ip" json:"client_ip"`
	Method    string      `bson:"method" json:"method"`
	Path      string      `bson:"path" json:"path"`
	PolicyID  string      `bson:"policy_id" json:"policy_id"`
	RuleID    string      `bson:"rule_id" json:"rule_id"`
	Action    string      `bson:"action" json:"action"` // log|block|challenge
	Status    int         `bson:"status" json:"status"`
	Reason    string      `bson:"reason" json:"reason"`
}

// AccessLog records one completed request regardless of verdict.
type AccessLog struct {
	ID           interface{}   `bson:"_id,omitempty" json:"id,omitempty"`
	Timestamp    time.Time     `bson:"timestamp" json:"timestamp"`
	Host         string        `bson:"host" json:"host"`
	ClientIP     string        `bson:"client_ip" json:"client_ip"`
	Method       string        `bson:"method" json:"method"`
	Path         string        `bson:"path" json:"path"`
	PolicyID     string        `bson:"policy_id" json:"policy_id"`
	Verdict      string        `bson:"verdict" json:"verdict"`
	Duration     time.Duration `bson:"duration_ns" json:"duration_ns"`
	UpstreamAddr string        `bson:"upstream_addr" json:"upstream_addr"`
}

// Sink is the Mongo-backed implementation of the observability log sink.
type Sink struct {
	events *mongo.Collection
	access *mongo.Collection
	log    *logrus.Logger
	tail   chan SecurityEvent
}

// NewSink wires Sink to the given database.
func NewSink(client *mongo.Client, dbName string, log *logrus.Logger) *Sink {
	db := client.Database(dbName)
	return &Sink{
		events: db.Collection("security_events"),
		access: db.Collection("access_logs"),
		log:    log,
		tail:   make(chan SecurityEvent, 100),
	}
}

// Tail returns the live-tail channel of recently written security events.
func (s *Sink) Tail() <-chan SecurityEvent {
	return s.tail
}

// WriteEvent persists a terminal decision asynchronously, so a slow
// database never adds latency to the request path.
func (s *Sink) WriteEvent(ev SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.events.InsertOne(ctx, ev); err != nil && s.log != nil {
			s.log.WithError(err).Warn("audit: failed to persist security event")
		}

		select {
		case s.tail <- ev:
		default:
		}
	}()
}

// WriteAccess persists a completed request's access log entry.
func (s *Sink) WriteAccess(al AccessLog) {
	if al.Timestamp.IsZero() {
		al.Timestamp = time.Now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.access.InsertOne(ctx, al); err != nil && s.log != nil {
			s.log.WithError(err).Warn("audit: failed to persist access log")
		}
	}()
}

// RecentEvents returns the most recent limit security events, newest
// first.
func (s *Sink) RecentEvents(ctx context.Context, limit int64) ([]SecurityEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cursor, err := s.events.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []SecurityEvent
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
