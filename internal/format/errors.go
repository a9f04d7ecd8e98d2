package format

import "errors"

// ErrIntegrity reports a record or header that failed its length or checksum
// check. Readers treat it as the end of the readable log at that offset.
var ErrIntegrity = errors.New("integrity check failed")
