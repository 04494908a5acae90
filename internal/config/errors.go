package config

import "errors"

// ErrInvalidConfig classifies a configuration that failed validation at
// load time: a missing base directory, an empty station identity, an
// empty provider chain for a required capability, and so on. The
// daemon treats this as fatal and refuses to start.
var ErrInvalidConfig = errors.New("invalid configuration")
