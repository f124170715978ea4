package client

import "go-ubus/message"

// Status is a broker status code.
type Status = message.Status

const (
	StatusOK               = message.StatusOK
	StatusInvalidCommand   = message.StatusInvalidCommand
	StatusInvalidArgument  = message.StatusInvalidArgument
	StatusMethodNotFound   = message.StatusMethodNotFound
	StatusNotFound         = message.StatusNotFound
	StatusNoData           = message.StatusNoData
	StatusPermissionDenied = message.StatusPermissionDenied
	StatusTimeout          = message.StatusTimeout
	StatusNotSupported     = message.StatusNotSupported
	StatusUnknownError     = message.StatusUnknownError
	StatusConnectionFailed = message.StatusConnectionFailed
)
