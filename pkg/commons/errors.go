// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import "errors"

// Sentinel errors for the internal error taxonomy. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can still errors.Is against them.
var (
	// ErrProviderUnavailable signals the upstream realtime-audio provider
	// never opened its transport or never reached session.created within
	// the bounded connect window. Transport/credential class: fatal for
	// the session.
	ErrProviderUnavailable = errors.New("provider adapter: upstream unavailable")

	// ErrUnsupportedFormat is returned by send_audio for non-PCM16 input.
	// Rejected synchronously to the caller, never emitted as a bus event.
	ErrUnsupportedFormat = errors.New("provider adapter: unsupported audio format")

	// ErrSessionNotFound is returned by the session manager for operations
	// against an id that was never created, or was already garbage
	// collected past its deletion grace period.
	ErrSessionNotFound = errors.New("session manager: session not found")

	// ErrSessionEnded is returned when an operation is attempted against a
	// session already in the ended state.
	ErrSessionEnded = errors.New("session manager: session already ended")

	// ErrPolicyViolation marks a refuse/cancel_output decision surfaced as
	// a Go error to a caller that needs to short-circuit (e.g. a synchronous
	// pre-check), as opposed to the normal async policy.decision event path.
	ErrPolicyViolation = errors.New("policy engine: content violates policy")

	// ErrCommitTooShort is the internal sentinel for Guard 1 in
	// commit_audio (buffer below minimum duration). It never escapes the
	// provider adapter as a bus event — callers expect a commit.skipped
	// client message instead, no error.
	ErrCommitTooShort = errors.New("provider adapter: buffer below minimum commit duration")
)
