//go:build test

package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logtest.Hook
}

// NewTestHelper creates a test helper with a debug-level logger whose entries
// are captured in Hook instead of being printed.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Entries returns captured entries at the given level.
func (h *TestHelper) Entries(level logrus.Level) []logrus.Entry {
	var out []logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level {
			out = append(out, *e)
		}
	}
	return out
}

// IndexOf returns the position of the first captured entry at level whose
// message contains substr, or -1.
func (h *TestHelper) IndexOf(level logrus.Level, substr string) int {
	for i, e := range h.Hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return i
		}
	}
	return -1
}
