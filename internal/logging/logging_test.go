package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSortKeysCanonical(t *testing.T) {
	keys := []string{"error", "zeta", "removed", "module", "alpha", "run_id"}
	sortKeysCanonical(keys)
	assert.Equal(t, []string{"module", "run_id", "removed", "alpha", "zeta", "error"}, keys)
}

func TestModuleFromFile(t *testing.T) {
	cases := map[string]string{
		"/src/github.com/maniack/sessionsweep/internal/sweeper/sweeper.go": "internal/sweeper",
		"/src/github.com/maniack/sessionsweep/cmd/sessionsweep/main.go":    "cmd/sessionsweep",
		"/src/github.com/maniack/sessionsweep/main.go":                     "main.go",
		"/usr/lib/go/src/net/http/server.go":                               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, moduleFromFile(in), in)
	}
}

func TestContextHookAddsRunFields(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.AddHook(contextHook{})

	ctx := WithRun(context.Background(), "run-1", "schedule")
	l.WithContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "run_id=run-1")
	assert.Contains(t, buf.String(), "trigger=schedule")
	assert.Equal(t, "run-1", RunID(ctx))
}
