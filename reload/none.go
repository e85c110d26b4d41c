package reload

import "github.com/rs/zerolog"

// NoneStrategy never emits on its own. Manual triggers still fan out, so
// embedders without polling or pub/sub can drive reloads themselves.
type NoneStrategy struct {
	broadcaster
}

func NewNone(log zerolog.Logger) *NoneStrategy {
	s := &NoneStrategy{}
	s.broadcaster.log = log
	return s
}

func (s *NoneStrategy) Start() error { return nil }
func (s *NoneStrategy) Stop() error  { return nil }
