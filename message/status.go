package message

import "strconv"

// Status is the result code the broker returns for every request.
type Status int32

const (
	StatusOK Status = iota
	StatusInvalidCommand
	StatusInvalidArgument
	StatusMethodNotFound
	StatusNotFound
	StatusNoData
	StatusPermissionDenied
	StatusTimeout
	StatusNotSupported
	StatusUnknownError
	StatusConnectionFailed

	statusCount
)

// statusMessages is indexed by Status; codes without an entry report
// "Unknown error".
var statusMessages = [statusCount]string{
	StatusOK:               "Success",
	StatusInvalidCommand:   "Invalid command",
	StatusInvalidArgument:  "Invalid argument",
	StatusMethodNotFound:   "Method not found",
	StatusNotFound:         "Object not found",
	StatusPermissionDenied: "Permission denied",
	StatusTimeout:          "Timeout",
}

// Message returns the short human-readable description of s.
func (s Status) Message() string {
	if s >= 0 && s < statusCount && statusMessages[s] != "" {
		return statusMessages[s]
	}
	return "Unknown error"
}

var statusNames = [statusCount]string{
	"OK", "INVALID_COMMAND", "INVALID_ARGUMENT", "METHOD_NOT_FOUND",
	"NOT_FOUND", "NO_DATA", "PERMISSION_DENIED", "TIMEOUT",
	"NOT_SUPPORTED", "UNKNOWN_ERROR", "CONNECTION_FAILED",
}

func (s Status) String() string {
	if s >= 0 && s < statusCount {
		return statusNames[s]
	}
	return "STATUS_" + strconv.Itoa(int(s))
}
