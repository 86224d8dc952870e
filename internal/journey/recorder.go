// internal/journey/recorder.go
package journey

import (
	"sync"

	"insurance-journey/internal/common/logger"
	"insurance-journey/internal/insurance"
)

// Recorder is a passive observer that keeps the last request/response
// exchange for operator visibility. It has no effect on the workflow.
type Recorder struct {
	mu   sync.RWMutex
	last *insurance.Exchange
	log  logger.Logger
}

func NewRecorder(log logger.Logger) *Recorder {
	return &Recorder{
		log: log.WithFields(map[string]interface{}{"component": "recorder"}),
	}
}

// Record implements insurance.Observer.
func (r *Recorder) Record(ex insurance.Exchange) {
	r.mu.Lock()
	r.last = &ex
	r.mu.Unlock()

	fields := map[string]interface{}{
		"operation": ex.Operation,
		"method":    ex.Method,
		"path":      ex.Path,
		"status":    ex.Status,
	}
	if ex.Err != nil {
		r.log.Debug("api exchange failed", fields)
		return
	}
	r.log.Debug("api exchange", fields)
}

// Last returns the most recent exchange, if any call has been made.
func (r *Recorder) Last() (insurance.Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return insurance.Exchange{}, false
	}
	return *r.last, true
}
