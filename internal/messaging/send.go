package messaging

import "errors"

// ErrNoReplyTarget is returned when a non-admin replies to the announcement
// thread and no prior message from another sender exists to address.
var ErrNoReplyTarget = errors.New("no reply target in thread")

// SendTarget is the resolved addressing for an outgoing message.
type SendTarget struct {
	// ReceiverID is empty for broadcasts and undirected support tickets.
	ReceiverID string
	IsGlobal   bool
	// SwitchKey is the conversation key the sender's view should move to
	// when the reply was redirected; empty when the key is unchanged.
	SwitchKey string
}

// ResolveSendTarget decides who an outgoing message on the given conversation
// key is addressed to. An admin writing to the announcement thread broadcasts;
// anyone else writing there is redirected to the latest non-self sender in the
// thread, chosen by timestamp (later list position wins a tie). Support
// messages stay undirected; any other key is the receiver verbatim.
func ResolveSendTarget(key string, thread []Message, viewerID string, viewerIsAdmin bool) (SendTarget, error) {
	switch key {
	case KeyGlobal:
		if viewerIsAdmin {
			return SendTarget{IsGlobal: true}, nil
		}
		target := latestForeignSender(thread, viewerID)
		if target == "" {
			return SendTarget{}, ErrNoReplyTarget
		}
		return SendTarget{ReceiverID: target, SwitchKey: target}, nil
	case KeySupport:
		return SendTarget{}, nil
	default:
		return SendTarget{ReceiverID: key}, nil
	}
}

func latestForeignSender(thread []Message, viewerID string) string {
	target := ""
	var bestAt int64
	for _, m := range thread {
		if m.SenderID == "" || m.SenderID == viewerID {
			continue
		}
		at := m.CreatedAt.UnixNano()
		if target == "" || at >= bestAt {
			target = m.SenderID
			bestAt = at
		}
	}
	return target
}
