package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call captured by RecorderAPI.
type Report struct {
	Level  string
	Id     string
	Params []any
}

// RecorderAPI keeps every report in memory so tests can assert on what a
// component logged. It is safe for concurrent use.
type RecorderAPI struct {
	mutex   sync.Mutex
	reports []Report
	counts  map[string]int64
}

func NewRecorderAPI() *RecorderAPI {
	return &RecorderAPI{counts: map[string]int64{}}
}

func (r *RecorderAPI) record(level, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Level: level, Id: id, Params: params})
}

func (r *RecorderAPI) ReportBroken(id string, params ...any) {
	r.record("broken", id, params)
}

func (r *RecorderAPI) ReportWarning(id string, params ...any) {
	r.record("warning", id, params)
}

func (r *RecorderAPI) ReportDebug(msg string, params ...any) {
	r.record("debug", msg, params)
}

func (r *RecorderAPI) ReportCount(id string, count int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counts[id] = count
}

// Reports returns the captured reports of the given level, an empty level
// returns all of them.
func (r *RecorderAPI) Reports(level string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if level == "" || rep.Level == level {
			out = append(out, rep)
		}
	}
	return out
}

// Has reports whether a report of the given level exists whose id ends with
// the given suffix (scoped ids carry a namespace prefix).
func (r *RecorderAPI) Has(level, idSuffix string) bool {
	for _, rep := range r.Reports(level) {
		if strings.HasSuffix(rep.Id, idSuffix) {
			return true
		}
	}
	return false
}

// Count returns the last count reported under an id ending with idSuffix.
func (r *RecorderAPI) Count(idSuffix string) (int64, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for id, n := range r.counts {
		if strings.HasSuffix(id, idSuffix) {
			return n, true
		}
	}
	return 0, false
}
