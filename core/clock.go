package core

import "github.com/benbjohnson/clock"

// Clock is the external time source the core consumes (§1, §5 "waiting for
// a missing parent... timeout-retry"). Using benbjohnson/clock's interface
// directly lets tests inject clock.NewMock() to deterministically exercise
// TTL-based purges without sleeping real wall-clock time.
type Clock = clock.Clock
