package main

import (
	"context"
	"errors"

	"github.com/rainoffallingstar/rv/internal/rv/rverrors"
)

// exitCodeFor maps an error to a process exit code so scripts driving
// `rv` can tell three classes of failure apart without string-matching
// messages: cancellation (130), any core error kind (2), and any other
// error (1).
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch rverrors.KindOf(err) {
	case rverrors.KindCancelled:
		return 130
	case "":
		return 1
	default:
		return 2
	}
}
