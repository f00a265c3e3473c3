// Package zap adapts a *zap.Logger to casengine.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/casengine"
)

type Logger struct{ L *zap.Logger }

var _ casengine.Logger = Logger{}

// New names the logger "casengine" so engine lines are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("casengine")} }

func (z Logger) Debug(msg string, f casengine.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f casengine.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f casengine.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f casengine.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f casengine.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
