package changestream

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix events are published under;
// the collection name is appended
const DefaultSubjectPrefix = "streamhub.changes"

// Publisher is the part of a NATS connection the sink needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink republishes change events as relaxed Extended JSON on
// <prefix>.<collection>
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn // set when the sink owns the connection
	prefix string
}

// NewNATSSink creates a sink on an existing publisher
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// ConnectNATS dials a NATS server and returns a sink that owns the
// connection
func ConnectNATS(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("streamhub"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", url)

	sink := NewNATSSink(nc, prefix)
	sink.conn = nc
	return sink, nil
}

// Subject returns the subject an event for collection is published on
func (s *NATSSink) Subject(collection string) string {
	return s.prefix + "." + collection
}

// Send publishes one event
func (s *NATSSink) Send(event *ChangeEvent) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	if err := s.pub.Publish(s.Subject(event.Collection), data); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close flushes and closes an owned connection
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	s.conn = nil
	return err
}
