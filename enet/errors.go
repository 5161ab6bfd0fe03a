package enet

import "github.com/pkg/errors"

var (
	ErrInvalidState         = errors.New("invalid state")
	ErrNotReady             = errors.New("adapter not ready")
	ErrResetInProgress      = errors.New("reset in progress")
	ErrBackpressure         = errors.New("transmit queue full")
	ErrFrameTooLong         = errors.New("frame too long")
	ErrPaused               = errors.New("adapter paused")
	ErrMediaDisconnected    = errors.New("media disconnected")
	ErrAborted              = errors.New("request aborted")
	ErrCancelled            = errors.New("send cancelled")
	ErrTransmitFailed       = errors.New("transmit failed")
	ErrHaltTimeout          = errors.New("halt timed out")
	ErrInvalidHandle        = errors.New("invalid receive buffer handle")
	ErrUnexpectedTransition = errors.New("unexpected state transition")
	ErrInvalidAddress       = errors.New("invalid station address")
)
