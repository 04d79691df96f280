// Package diag writes the line oriented diagnostic stream consumed by the
// testbed log analysis.
package diag

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tag prefixes a diagnostic line as "[TAG]".
type Tag string

const (
	TagBroadcast  Tag = "GLOSSY_BROADCAST"
	TagPayload    Tag = "GLOSSY_PAYLOAD"
	TagAppStats   Tag = "APP_STATS"
	TagAppDebug   Tag = "APP_DEBUG"
	TagFloodDebug Tag = "GLOSSY_FLOOD_DEBUG"
	TagStats      Tag = "GLOSSY_STATS"
)

// Emitter accepts diagnostic lines.
type Emitter interface {
	// Emit writes a tagged line.
	Emit(tag Tag, format string, args ...any)
	// Print writes an untagged line.
	Print(format string, args ...any)
}

// Stream writes one line per call. When NodePrefix is set each line is
// written as "<node_id> < <line>" so the output of several nodes can be
// interleaved on one writer and still be attributed.
type Stream struct {
	mu         sync.Mutex
	w          io.Writer
	nodeID     uint16
	nodePrefix bool
}

// NewStream returns a stream writing to w.
func NewStream(w io.Writer, nodeID uint16, nodePrefix bool) *Stream {
	return &Stream{w: w, nodeID: nodeID, nodePrefix: nodePrefix}
}

func (s *Stream) Emit(tag Tag, format string, args ...any) {
	s.write("[" + string(tag) + "]" + fmt.Sprintf(format, args...))
}

func (s *Stream) Print(format string, args ...any) {
	s.write(fmt.Sprintf(format, args...))
}

func (s *Stream) write(line string) {
	line = strings.TrimRight(line, "\r\n")

	log.Debug().
		Uint16("node_id", s.nodeID).
		Str("line", line).
		Msg("diag")

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.nodePrefix {
		_, err = fmt.Fprintf(s.w, "%d < %s\n", s.nodeID, line)
	} else {
		_, err = fmt.Fprintln(s.w, line)
	}
	if err != nil {
		log.Error().Err(err).Uint16("node_id", s.nodeID).Msg("failed to write diagnostic line")
	}
}

// Discard drops every line.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Tag, string, ...any) {}
func (discard) Print(string, ...any)     {}
