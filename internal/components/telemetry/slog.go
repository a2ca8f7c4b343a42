package telemetry

import (
	"log/slog"
	"strconv"
)

// SlogAPI writes reports as structured log records.
type SlogAPI struct {
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// paramsGroup puts positional params under "params", keyed by index.
func paramsGroup(params []any) slog.Attr {
	attrs := make([]any, 0, len(params))
	for i, p := range params {
		if err, ok := p.(error); ok {
			attrs = append(attrs, slog.String(strconv.Itoa(i), err.Error()))
			continue
		}
		attrs = append(attrs, slog.Any(strconv.Itoa(i), p))
	}
	return slog.Group("params", attrs...)
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.logger().Error("component broken", "id", id, paramsGroup(params))
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.logger().Warn("component warning", "id", id, paramsGroup(params))
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	s.logger().Debug(msg, paramsGroup(params))
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger().Info("count", "id", id, "count", count)
}
