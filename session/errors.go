/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import "errors"

var (
	// ErrAlreadyStarted is returned when an operation requires the
	// session to still be in the lobby but a round has already begun.
	ErrAlreadyStarted = errors.New("session: game already started")

	// ErrUnknownPlayer is returned when a player handle does not match
	// any registered player.
	ErrUnknownPlayer = errors.New("session: unknown player")

	// ErrRoundNotActive is returned for submissions made while no round
	// is in progress.
	ErrRoundNotActive = errors.New("session: no round in progress")

	// ErrAlreadySubmitted is returned for a second submission within the
	// same round.
	ErrAlreadySubmitted = errors.New("session: selection already submitted")

	// ErrInvalidIndex is returned when a submitted cell index is out of
	// grid bounds. The whole submission is rejected and no score changes.
	ErrInvalidIndex = errors.New("session: selection index out of bounds")

	// ErrInvalidGridConfig is returned when the configured grid cannot
	// contain both a prime and a non-prime value.
	ErrInvalidGridConfig = errors.New("session: invalid grid configuration")
)
