// Package guard switches binaries into test mode when imported by a test, so
// calling main never dials Postgres or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/odyssey-crm/internal/app"
)

var once sync.Once

func init() {
	Enable()
}

// Enable sets app.TestModeEnv to 1 unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
	})
}
