package app

import "github.com/dkeye/collabrelay/internal/core"

type SendFailureAction int

const (
	NoAction SendFailureAction = iota
	KickMember
)

// Policy decides what happens to a member whose transport refused a frame.
type Policy interface {
	OnSendFailure(session core.SessionService, member *core.Member) SendFailureAction
}

// SimplePolicy evicts on the first failed send: there is no backpressure,
// a recipient that cannot keep up is treated as disconnected.
type SimplePolicy struct{}

func (SimplePolicy) OnSendFailure(core.SessionService, *core.Member) SendFailureAction {
	return KickMember
}
