// Package tcpserver accepts newline-delimited JSON log events over TCP
// and forwards them to the ingest gate. It exists for shipping agents
// that speak neither HTTP nor OTLP.
package tcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/tinytelemetry/faultline/internal/model"
)

const (
	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB

	// DefaultBatchSize is how many decoded events are handed to the gate at once.
	DefaultBatchSize = 100
)

// Ingester is the gate decoded events are handed to.
type Ingester interface {
	Ingest(ctx context.Context, tenant string, events []*model.LogEvent) []model.Outcome
}

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	MaxLineSize   int
	BatchSize     int
	DefaultTenant string // applied to events that carry no tenant of their own
}

// Server listens for newline-delimited JSON log events over TCP.
type Server struct {
	listener      net.Listener
	addr          string
	ingester      Ingester
	maxLineSize   int
	batchSize     int
	defaultTenant string
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewServer creates a new TCP server. Default addr is "127.0.0.1:4000".
func NewServer(addr string, ingester Ingester, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4000"
	}
	maxLineSize := DefaultMaxLineSize
	batchSize := DefaultBatchSize
	defaultTenant := ""
	if len(conf) > 0 {
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		defaultTenant = conf[0].DefaultTenant
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:          addr,
		ingester:      ingester,
		maxLineSize:   maxLineSize,
		batchSize:     batchSize,
		defaultTenant: defaultTenant,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, s.maxLineSize)
	scanner.Buffer(buf, s.maxLineSize)

	batch := make([]*model.LogEvent, 0, s.batchSize)
	malformed := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.ingester.Ingest(s.ctx, "", batch)
		batch = batch[:0]
	}

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event := &model.LogEvent{}
		if err := json.Unmarshal(line, event); err != nil {
			malformed++
			continue
		}
		if event.Tenant == "" {
			event.Tenant = s.defaultTenant
		}
		batch = append(batch, event)
		if len(batch) >= s.batchSize {
			flush()
		}
	}
	flush()

	if malformed > 0 {
		log.Printf("tcpserver: %s sent %d malformed lines", conn.RemoteAddr(), malformed)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Printf("tcpserver: dropped connection %s due to line exceeding max size (%d bytes)", conn.RemoteAddr(), s.maxLineSize)
			return
		}
		log.Printf("tcpserver: scanner error from %s: %v", conn.RemoteAddr(), err)
	}
}

// Stop gracefully shuts down the TCP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
