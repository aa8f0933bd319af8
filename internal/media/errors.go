package media

import "errors"

// ErrAssetTooLarge indicates the payload exceeds the configured max download size.
var ErrAssetTooLarge = errors.New("media asset too large")
