// Package statuspub publishes JSON-encoded session status updates over a
// ZMQ PUB socket, the way dastard's RunClientUpdater (client_updater.go)
// publishes DASTARD state to any number of subscribers. peakdrv uses
// pebbe/zmq4 rather than the teacher's czmq binding, matching the
// dependency dastard's own go.mod actually declares for this socket.
package statuspub

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// Update is one message to publish: a topic tag plus a JSON-encodable
// payload (frame counts, reset info, async state transitions).
type Update struct {
	Tag     string
	Payload interface{}
}

// Publisher owns a bound ZMQ PUB socket and a channel of pending updates.
type Publisher struct {
	socket   *zmq.Socket
	messages chan Update
	done     chan struct{}
}

// Start binds a PUB socket on tcp://*:port and launches the forwarding
// goroutine. Port 0 lets the OS choose; callers needing the actual port
// should pass a fixed value, since zmq4 does not report an ephemeral
// bind back the way net.Listener does.
func Start(port int) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("statuspub: new socket: %w", err)
	}
	addr := fmt.Sprintf("tcp://*:%d", port)
	if err := socket.Bind(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("statuspub: bind %s: %w", addr, err)
	}
	p := &Publisher{
		socket:   socket,
		messages: make(chan Update, 64),
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Publish enqueues an update for the forwarding goroutine. It never
// blocks the caller's acquisition path: a full queue drops the oldest
// pending update rather than stalling the producer.
func (p *Publisher) Publish(u Update) {
	select {
	case p.messages <- u:
	default:
		select {
		case <-p.messages:
		default:
		}
		p.messages <- u
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for u := range p.messages {
		payload, err := json.Marshal(u.Payload)
		if err != nil {
			continue
		}
		if _, err := p.socket.SendMessage(u.Tag, payload); err != nil {
			return
		}
	}
}

// Close stops the forwarding goroutine and closes the socket.
func (p *Publisher) Close() error {
	close(p.messages)
	<-p.done
	return p.socket.Close()
}
