package importer

import (
	"fmt"
	"strings"

	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/mailstore"
)

// Decision says what the import loop does with a message that failed to
// upload.
type Decision int

const (
	Retry Decision = iota
	Skip
	Stop
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Skip:
		return "skip"
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Strategy decides how to handle an upload failure. It must be pure; the
// loop enforces the retry cap.
type Strategy func(m *mailstore.Message, err error) Decision

// SkipRejected skips messages Gmail refused and stops on anything else.
func SkipRejected(_ *mailstore.Message, err error) Decision {
	if gmail.IsRejected(err) {
		return Skip
	}
	return Stop
}

// RetryRejected retries refused messages; the loop's cap turns persistent
// refusals into skips.
func RetryRejected(_ *mailstore.Message, err error) Decision {
	if gmail.IsRejected(err) {
		return Retry
	}
	return Stop
}

// StopOnError aborts the run on the first failure.
func StopOnError(*mailstore.Message, error) Decision { return Stop }

// StrategyByName maps the config value to a Strategy.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "skip":
		return SkipRejected, nil
	case "retry":
		return RetryRejected, nil
	case "stop":
		return StopOnError, nil
	}
	return nil, fmt.Errorf("unknown error strategy %q (want skip, retry or stop)", name)
}
