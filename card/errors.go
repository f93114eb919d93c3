package card

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJSON     = errors.New("invalid json")
	ErrQRConfigFormat  = errors.New("quick reply file has no recognized action list")
	ErrUnsupportedFile = errors.New("unsupported card file")
)

const (
	StageCardJSON       = "card json"
	StageQuickReplyJSON = "quick reply json"
)

// ParseError marks a json parse failure and the stage it happened at.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
