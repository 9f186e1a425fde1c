package bus

import "github.com/cpravetz/agentset/internal/logging"

func newTestLogger() *logging.Logger {
	return logging.New().WithComponent("bus")
}
