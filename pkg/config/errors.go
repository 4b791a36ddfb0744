package config

import "errors"

// ErrConfigInvalid is the sentinel for the ConfigInvalid error kind from
// the error-handling design: bad AES key, missing credentials, non-positive
// agentId, and similar validation failures.
var ErrConfigInvalid = errors.New("config invalid")
