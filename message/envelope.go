package message

import "go-ubus/value"

// Request is one method call as seen by the client middleware chain.
type Request struct {
	Object string      // object path, e.g. "network.interface.lan"
	Method string      // method name, e.g. "status"
	Params value.Value // nil or Null sends an empty table
}

// Response carries the outcome of a Request.
//
//   - On success: Status is StatusOK and Result holds the reply (never nil).
//   - On a broker-side failure: Status is the broker's code.
//   - On a client-side failure (not connected, encoding, transport): Err is set.
type Response struct {
	Result *value.Map
	Status Status
	Err    error
}

// Failed reports whether the call did not succeed.
func (r *Response) Failed() bool {
	return r.Err != nil || r.Status != StatusOK
}
