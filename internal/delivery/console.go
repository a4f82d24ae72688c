package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// Console output modes.
const (
	ConsolePrint = "print"
	ConsoleJSON  = "json"
)

// ConsoleMirror echoes each sample to a writer, usually stdout.
//
// In print mode each field is written as "name: value" on its own line. In
// json mode one line {"<device_name>": {fields}} is written per sample.
type ConsoleMirror struct {
	mu   sync.Mutex
	w    io.Writer
	mode string
}

// NewConsoleMirror returns a mirror for mode ConsolePrint or ConsoleJSON.
func NewConsoleMirror(w io.Writer, mode string) (*ConsoleMirror, error) {
	switch mode {
	case ConsolePrint, ConsoleJSON:
	default:
		return nil, fmt.Errorf("unknown console mode %q", mode)
	}
	return &ConsoleMirror{w: w, mode: mode}, nil
}

// Mirror writes rec.
func (c *ConsoleMirror) Mirror(_ context.Context, rec telemetry.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ConsolePrint {
		for _, f := range rec.Fields {
			if _, err := fmt.Fprintf(c.w, "%s:%v\n", f.Name, f.Value); err != nil {
				return err
			}
		}
		return nil
	}

	line, err := json.Marshal(map[string]telemetry.Fields{rec.DeviceName: rec.Fields})
	if err != nil {
		return fmt.Errorf("encoding console line: %w", err)
	}
	_, err = fmt.Fprintf(c.w, "%s\n", line)
	return err
}
