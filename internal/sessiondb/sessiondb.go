// Package sessiondb records daemon sessions, acquisitions and faults in a
// ClickHouse database.
package sessiondb

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/usnistgov/multiadc/internal/unboundedchan"
)

const databaseName = "multiadc" // official SQL name of the database

// inserter is the part of clickhouse.Conn a Connection uses.
type inserter interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

type message interface {
	insert(ctx context.Context, db inserter) error
}

// Connection queues messages for the database. Recording never blocks the
// caller; messages are inserted in order by one goroutine.
type Connection struct {
	db      inserter
	session *SessionMessage
	queue   *unboundedchan.UnboundedChannel[message]
	done    chan struct{}
	log     zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

// NewID returns a new unique, time-ordered row ID.
func NewID() string {
	return ulid.Make().String()
}

// Options returns the client options for a server at addr. An empty user or
// password comes from MULTIADC_DB_USER or MULTIADC_DB_PASSWORD.
func Options(addr, user, password, version string) *clickhouse.Options {
	if user == "" {
		user = os.Getenv("MULTIADC_DB_USER")
	}
	if password == "" {
		password = os.Getenv("MULTIADC_DB_PASSWORD")
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: user,
			Password: password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "multiadc", Version: version},
			},
		},
	}
}

// Open connects to the server, checks it is alive and records the session.
func Open(ctx context.Context, opt *clickhouse.Options, session *SessionMessage, log zerolog.Logger) (*Connection, error) {
	conn, err := clickhouse.Open(opt)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open database")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			return nil, errors.Errorf("database exception [%d] %s", exception.Code, exception.Message)
		}
		return nil, errors.Wrap(err, "cannot ping database")
	}
	return newConnection(conn, session, log), nil
}

func newConnection(db inserter, session *SessionMessage, log zerolog.Logger) *Connection {
	c := &Connection{
		db:      db,
		session: session,
		queue:   unboundedchan.NewUnboundedChannel[message](),
		done:    make(chan struct{}),
		log:     log,
	}
	go c.run()
	c.enqueue(copySession(session))
	return c
}

// Dummy returns a Connection that records nothing.
func Dummy() *Connection {
	return &Connection{}
}

func copySession(s *SessionMessage) *SessionMessage {
	cp := *s
	return &cp
}

func (c *Connection) run() {
	defer close(c.done)
	ctx := context.Background()
	for m := range c.queue.Out() {
		if !c.IsConnected() {
			continue
		}
		if err := m.insert(ctx, c.db); err != nil {
			c.log.Warn().Err(err).Msg("database insert failed")
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
	}
}

// IsConnected returns true while messages are being recorded.
func (c *Connection) IsConnected() bool {
	if c == nil || c.db == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err == nil
}

// Err returns the insert error that stopped recording, if any.
func (c *Connection) Err() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) enqueue(m message) {
	if !c.IsConnected() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue.In() <- m
}

// RecordAcquisition records the start of an acquisition.
func (c *Connection) RecordAcquisition(m *AcquisitionMessage) {
	if m == nil {
		return
	}
	cp := *m
	c.enqueue(&cp)
}

// FinishAcquisition records the end of an acquisition, stamping its end time.
func (c *Connection) FinishAcquisition(m *AcquisitionMessage) {
	if m == nil {
		return
	}
	m.End = time.Now()
	cp := *m
	c.enqueue(&cp)
}

// RecordFault records a fault raised while acquiring.
func (c *Connection) RecordFault(m *FaultMessage) {
	if m == nil {
		return
	}
	cp := *m
	c.enqueue(&cp)
}

// Close records the end of the session, waits for queued messages to be
// inserted and disconnects.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	c.session.End = time.Now()
	c.enqueue(copySession(c.session))
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue.Close()
	c.mu.Unlock()
	<-c.done
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, "cannot close database")
	}
	return c.Err()
}
