// Serialmux provides an abstraction over a robot's serial link with the
// ability for multiple clients to subscribe to line events from the link and
// send commands to the single device on the other end.
package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// MaxLineSize bounds a single line read from the link. Camera frames travel as
// base64 inside one JSON line, so this is well above bufio's default.
const MaxLineSize = 4 * 1024 * 1024

// SerialPorter defines the minimal interface needed for a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialMux fans the lines read from one port out to any number of
// subscribers and serialises commands written back to it.
type SerialMux[T SerialPorter] struct {
	port T

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	writeMu sync.Mutex

	lines    atomic.Uint64
	dropped  atomic.Uint64
	commands atomic.Uint64
}

// LinkStats counts traffic through a SerialMux.
type LinkStats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Commands    uint64 `json:"commands"`
	Subscribers int    `json:"subscribers"`
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port: port,
		subs: make(map[string]chan string),
	}
}

// Subscribe registers a buffered line channel. Slow subscribers miss lines
// rather than stalling the link. After Close the channel comes back closed.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and forgets a subscription. Unknown IDs are ignored.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// SendCommand writes one newline-terminated command line.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := io.WriteString(s.port, command)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	case n != len(command):
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrWriteFailed, n, len(command))
	}
	s.commands.Add(1)
	return nil
}

// Monitor reads lines until the port reaches EOF (nil), ctx is cancelled
// (ctx.Err()) or the read fails (the read error).
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	// Scanning blocks in Read, so it runs apart from the select below.
	lines := make(chan string)
	var scanErr error
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr = scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return scanErr
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

// broadcast offers line to every subscriber without blocking. It reports
// false once the mux is closed.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.lines.Add(1)
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

// Close closes every subscriber channel and the port. Safe to call twice.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

// Subscribers returns the number of live subscriptions.
func (s *SerialMux[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() LinkStats {
	return LinkStats{
		Lines:       s.lines.Load(),
		Dropped:     s.dropped.Load(),
		Commands:    s.commands.Load(),
		Subscribers: s.Subscribers(),
	}
}

// AttachAdminRoutes mounts the link's debug routes under /debug/serial-*.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	s.AttachAdminRoutesWithPrefix(mux, "serial")
}

// AttachAdminRoutesWithPrefix mounts /debug/<prefix>-send-command,
// /debug/<prefix>-tail and /debug/<prefix>-stats. Distinct prefixes keep
// several links on one mux apart.
func (s *SerialMux[T]) AttachAdminRoutesWithPrefix(mux *http.ServeMux, prefix string) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc(prefix+"-send-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to %s\n", command, prefix)
	})

	debug.HandleSilentFunc(prefix+"-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	debug.Handle(prefix+"-tail", "Live tail of the "+prefix+" link", http.HandlerFunc(s.serveTail))
}

// serveTail streams link lines as server-sent events until the client goes
// away or the mux closes.
func (s *SerialMux[T]) serveTail(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
