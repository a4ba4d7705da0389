package sse

import "errors"

var (
	ErrClientNotFound = errors.New("stream client not found")
	ErrBufferFull     = errors.New("stream client buffer full")
)
