package eventproc

import "time"

const (
	defaultLoopInterval       = 10 * time.Second
	defaultInactiveTimeLimit  = 60 * time.Second
	jitterFraction            = 0.10
)
