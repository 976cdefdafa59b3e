package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// TestModeEnv switches the CRM binaries into test mode: main returns before
// dialing Postgres, Redis or the job broker. internal/testing/guard sets it.
const TestModeEnv = "ODYSSEY_CRM_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether TestModeEnv was set when first checked.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads TestModeEnv. Any strconv.ParseBool true value and
// "yes" enable test mode.
func RefreshTestMode() {
	raw := strings.TrimSpace(os.Getenv(TestModeEnv))
	on, err := strconv.ParseBool(raw)
	if err != nil {
		on = strings.EqualFold(raw, "yes")
	}
	testMode.on.Store(on)
}
