// Package testing switches lexledger into test mode when blank-imported by
// a test package, so binaries and routers skip runtime side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

const testModeEnv = "LEXLEDGER_TEST_MODE"

var once sync.Once

func enableTestMode() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}

func init() {
	enableTestMode()
}

// TestMain enables test mode before running m.
func TestMain(m *stdtesting.M) {
	enableTestMode()
	os.Exit(m.Run())
}
