package protocol

import (
	"github.com/k-nuth/network/pkg/payload"
	"github.com/k-nuth/network/pkg/proxy"
	"go.uber.org/zap"
)

// RejectProtocol logs every incoming reject message, including rejects
// of our own version message. The version protocol does not subscribe
// to reject (it only sends one, for an insufficient peer), so no
// received reject is acted on beyond this log line.
type RejectProtocol struct {
	*Events
	log *zap.Logger
}

func NewReject(ch *proxy.Channel, log *zap.Logger) *RejectProtocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &RejectProtocol{Events: &Events{Channel: ch}, log: log.With(zap.String("component", "protocol-reject"))}
}

func (r *RejectProtocol) Start(h EventHandler) {
	r.Events.Start(h)
	r.Channel.Subscribe(payload.KindReject, func(code error, msg payload.Message) bool {
		if code != nil {
			return false
		}
		rej := msg.(*payload.Reject)
		r.log.Debug("peer rejected message",
			zap.String("message", rej.Message),
			zap.Uint8("code", uint8(rej.Code)),
			zap.String("reason", rej.Reason))
		return true
	})
}
