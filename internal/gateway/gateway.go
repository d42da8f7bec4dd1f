package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedChannel is returned when a connection references a channel
// kind no adapter implements.
var ErrUnsupportedChannel = errors.New("unsupported channel")

// SendRequest carries everything one delivery needs. The destination number
// is expected to be already normalized to the channel's address form.
type SendRequest struct {
	SessionID   string
	Channel     string
	Number      string
	Name        *string
	ContentKind string // text / image / audio / document
	Body        string
	Caption     *string
}

// Outcome models expected per-recipient failure as a value rather than an
// error: the dispatch loop's continue-vs-abort branch is a plain field check.
// Errors returned alongside a zero Outcome mean the adapter could not attempt
// the send at all and are treated as campaign-level faults.
type Outcome struct {
	Delivered bool
	Detail    string
}

func Success(detail string) Outcome {
	return Outcome{Delivered: true, Detail: detail}
}

func Failure(detail string) Outcome {
	return Outcome{Delivered: false, Detail: detail}
}

// Gateway performs one message delivery to one destination address.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (Outcome, error)
}

func unsupported(channel string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
}
