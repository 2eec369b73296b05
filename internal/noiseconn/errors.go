package noiseconn

import "errors"

var errUnsupportedConn = errors.New("noiseconn: connection does not expose a raw fd")
