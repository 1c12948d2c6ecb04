package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// Facility tags every GELF message sent by this process.
const Facility = "telemetry_sync"

// NewGraylogWriter returns a GELF writer sending to addr over UDP. Each
// Write becomes one GELF message.
func NewGraylogWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("creating GELF writer for %s: %w", addr, err)
	}
	w.Facility = Facility
	return w, nil
}
