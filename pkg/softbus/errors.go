package softbus

import "github.com/billm/baaaht/softbus/pkg/types"

// Sentinel errors. Every error returned by the bus carries one of these
// codes, so errors.Is(err, ErrBadArgument) works whatever the message.
var (
	ErrBadArgument     = types.NewError(types.ErrCodeBadArgument, "bad argument")
	ErrMaxPipesMet     = types.NewError(types.ErrCodeMaxPipesMet, "maximum pipes in use")
	ErrPipeCreateError = types.NewError(types.ErrCodePipeCreateError, "pipe queue creation failed")
	ErrMaxMsgsMet      = types.NewError(types.ErrCodeMaxMsgsMet, "maximum message ids in use")
	ErrMaxDestsMet     = types.NewError(types.ErrCodeMaxDestsMet, "maximum destinations for message id")
	ErrMsgTooBig       = types.NewError(types.ErrCodeMsgTooBig, "message too big")
	ErrBufAllocError   = types.NewError(types.ErrCodeBufAllocError, "buffer allocation failed")
	ErrNoMessage       = types.NewError(types.ErrCodeNoMessage, "no message")
	ErrTimeOut         = types.NewError(types.ErrCodeTimeOut, "timed out")
	ErrPipeReadError   = types.NewError(types.ErrCodePipeReadError, "pipe read error")
	ErrBufferInvalid   = types.NewError(types.ErrCodeBufferInvalid, "buffer invalid")
)

func badArg(msg string) error {
	return types.NewError(types.ErrCodeBadArgument, msg)
}
