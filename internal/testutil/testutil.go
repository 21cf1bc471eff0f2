package testutil

import (
	"fmt"
	"strings"
)

var dsnNameReplacer = strings.NewReplacer("/", "_", " ", "_", "?", "_", "#", "_")

// NewTestDSN generates a DSN for an in-memory SQLite database for testing purposes.
// Foreign keys and the busy timeout are set per connection through DSN pragmas.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		dsnNameReplacer.Replace(testName))
}
