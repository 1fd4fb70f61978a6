package logging

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

var (
	logger    = logrus.New()
	hooksOnce sync.Once
)

// CtxKey is the type of context keys read by the context hook.
type CtxKey string

const (
	ContextRunID   CtxKey = "run_id"
	ContextTrigger CtxKey = "trigger"
)

// WithRun tags ctx with a sweep run id and the trigger that started it.
func WithRun(ctx context.Context, runID, trigger string) context.Context {
	ctx = context.WithValue(ctx, ContextRunID, runID)
	return context.WithValue(ctx, ContextTrigger, trigger)
}

// RunID returns the sweep run id stored in ctx, if any.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ContextRunID).(string)
	return s
}

// contextHook copies the chi request id and the sweep run tags onto entries
// logged with WithContext.
type contextHook struct{}

func (contextHook) Levels() []logrus.Level { return logrus.AllLevels }

func (contextHook) Fire(e *logrus.Entry) error {
	if e.Context == nil {
		return nil
	}
	set := func(field, value string) {
		if value == "" {
			return
		}
		if _, taken := e.Data[field]; !taken {
			e.Data[field] = value
		}
	}
	set("request_id", chmw.GetReqID(e.Context))
	for _, k := range []CtxKey{ContextRunID, ContextTrigger} {
		v, _ := e.Context.Value(k).(string)
		set(string(k), v)
	}
	return nil
}

// moduleHook names the package that produced the entry ("internal/sweeper").
type moduleHook struct{}

func (moduleHook) Levels() []logrus.Level { return logrus.AllLevels }

func (moduleHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["module"]; ok {
		return nil
	}
	if m := callerModule(); m != "" {
		e.Data["module"] = m
	}
	return nil
}

const repoMarker = "github.com/maniack/sessionsweep/"

func callerModule() string {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(4, pcs)])
	for {
		f, more := frames.Next()
		internal := strings.Contains(f.Function, "github.com/sirupsen/logrus") ||
			strings.Contains(f.Function, repoMarker+"internal/logging")
		if !internal {
			if m := moduleFromFile(f.File); m != "" {
				return m
			}
		}
		if !more {
			return ""
		}
	}
}

// moduleFromFile maps a source path inside this repo to its package
// directory; files outside the repo map to "".
func moduleFromFile(file string) string {
	i := strings.Index(file, repoMarker)
	if i < 0 {
		return ""
	}
	rel := strings.Split(file[i+len(repoMarker):], "/")
	switch rel[0] {
	case "vendor":
		return ""
	case "internal", "cmd":
		if len(rel) >= 3 {
			return rel[0] + "/" + rel[1]
		}
	}
	return rel[0]
}

// fieldRank orders text output: sweep fields first, then HTTP, then SQL.
// Unranked fields sort alphabetically with "error" last.
var fieldRank = func() map[string]int {
	order := []string{
		"time", "module", "level",
		"run_id", "trigger", "table", "grace_days", "limit", "cutoff", "removed", "deleted",
		"method", "route", "status", "size",
		"verb", "rows", "sql", "threshold_ms",
		"request_id", "duration_ms",
	}
	m := make(map[string]int, len(order))
	for i, k := range order {
		m[k] = i
	}
	return m
}()

func sortKeysCanonical(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ri, iok := fieldRank[keys[i]]
		rj, jok := fieldRank[keys[j]]
		if iok || jok {
			return iok && (!jok || ri < rj)
		}
		ki, kj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if (ki == "error") != (kj == "error") {
			return kj == "error"
		}
		return ki < kj
	})
}

// Init configures the global logger: debug level when asked, JSON or text
// output. Hooks are installed once; later calls only change level and format.
func Init(debug bool, jsonFormat bool) {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)
	hooksOnce.Do(func() {
		logger.AddHook(moduleHook{})
		logger.AddHook(contextHook{})
	})

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, SortingFunc: sortKeysCanonical})
}

// L returns the global logger.
func L() *logrus.Logger { return logger }
