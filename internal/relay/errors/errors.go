package errors

import sterrors "errors"

var (
	ErrConfigRequired     = sterrors.New("bidrelay: config is required")
	ErrLoggerRequired     = sterrors.New("bidrelay: logger is required")
	ErrSinkRequired       = sterrors.New("bidrelay: connection sink is required")
	ErrConnectionNotFound = sterrors.New("bidrelay: connection not found")
	ErrRelayURLRequired   = sterrors.New("bidrelay: relay url is required")
	ErrEventDataRequired  = sterrors.New("bidrelay: event data is required")
	ErrAuctionIDRequired  = sterrors.New("bidrelay: auction id is required")
)
