package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "LEXLEDGER_TEST_MODE"

// InTestMode reports whether LEXLEDGER_TEST_MODE was truthy when first
// checked. Binaries then skip their listeners and routers skip the
// Prometheus registration.
var InTestMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})
