// Package guard flips the application into test mode as a side effect of
// being imported, so test binaries never start real runtimes.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CREWNET_TEST_MODE") == "" {
			_ = os.Setenv("CREWNET_TEST_MODE", "1")
		}
	})
}
