package llmcall

import "github.com/jackzampolin/magicscan/internal/providers"

// Recorder handles fire-and-forget call recording into a Store.
// A nil Recorder discards everything.
type Recorder struct {
	store *Store
}

// NewRecorder creates a new call recorder.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Record captures a model call.
func (r *Recorder) Record(result *providers.GenerateResult, err error, opts RecordOptions) {
	if r == nil || r.store == nil {
		return
	}
	r.store.Add(FromResult(result, err, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || r.store == nil || call == nil {
		return
	}
	r.store.Add(call)
}
