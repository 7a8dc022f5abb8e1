package app

import (
	"os"
	"sync"
)

// testMode is resolved once per process. The mains consult it before any
// external wiring so a CI `go test ./...` run never dials postgres or redis.
var testMode = sync.OnceValue(func() bool {
	return os.Getenv("FBMS_TEST_MODE") == "1"
})

// InTestMode reports whether runtime startup should be skipped.
func InTestMode() bool {
	return testMode()
}
