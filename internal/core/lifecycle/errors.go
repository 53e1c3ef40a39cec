package lifecycle

import "errors"

var (
	// ErrBackwards 试图回退阶段
	ErrBackwards = errors.New("lifecycle: cannot advance backwards")
	// ErrInvalidPhase 未知阶段
	ErrInvalidPhase = errors.New("lifecycle: invalid phase")
)
