package telemetry

import (
	"fmt"
)

// API is what the filing components report through instead of logging
// directly, so tests can assert on what was reported.
//
// Ids name the component that reported, `<type>.<method>` in lowercase with
// dashes between words (ex. `engine.step`, `mailer.send`, `store.record`).
// They say where to look, not what happened: whether it broke is already
// told by calling ReportBroken rather than ReportWarning. Packages declare
// their ids as `report_...` constants.
type API interface {
	// ReportBroken is for failures someone has to look at.
	ReportBroken(id string, params ...any)
	// ReportWarning is for things the attempt survived but that may need a
	// second look, like a degraded fallback or a missing optional artifact.
	ReportWarning(id string, params ...any)
	// ReportDebug is dropped unless verbose output is on.
	ReportDebug(msg string, params ...any)
	// ReportCount reports a gauge sample, not an increment.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, normally the package name.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
