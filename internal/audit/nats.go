package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes events as JSON on a subject.
type NATSSink struct {
	pub     Publisher
	subject string
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// ConnectNATS dials url and returns a sink plus the connection closer.
func ConnectNATS(url, subject, name string) (*NATSSink, func(), error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATSSink(nc, subject), nc.Close, nil
}

func (s *NATSSink) Record(_ context.Context, ev Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.subject, buf); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return nil
}
