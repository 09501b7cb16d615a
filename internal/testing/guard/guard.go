// Package guard forces test mode before any package under test reads the
// environment. Import it for side effects from TestMain files.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SOUQLINE_TEST_MODE") == "" {
			_ = os.Setenv("SOUQLINE_TEST_MODE", "1")
		}
	})
}
