package encoding

import "errors"

// ErrCorrupt is wrapped by every decode failure in this package: bad tag,
// truncated buffer, or CRC mismatch.
var ErrCorrupt = errors.New("corrupt encoding")
