package payload

// opaqueKinds is the closed set of application-layer kinds the core
// frames without a typed decoder of its own.
var opaqueKinds = []Kind{
	KindGetBlocks, KindGetHeaders, KindHeaders, KindBlock, KindTransaction,
	KindMerkleBlock, KindFilterLoad, KindFilterAdd, KindFilterClear,
	KindFeeFilter, KindSendHeaders, KindSendCompact, KindCompactBlock,
	KindBlockTransactions, KindGetBlockTransactions, KindMemoryPool,
	KindAlert, KindDoubleSpendProof, KindXVersion,
}

// New constructs a zero-value Message for kind, or (nil, false) if kind
// is not one this core recognizes at all (message_subscriber.load
// returns not-found in that case without stopping the channel).
func New(kind Kind) (Message, bool) {
	switch kind {
	case KindVersion:
		return &Version{}, true
	case KindVerack:
		return &Verack{}, true
	case KindPing:
		return &Ping{}, true
	case KindPong:
		return &Pong{}, true
	case KindAddress:
		return &Address{}, true
	case KindGetAddress:
		return &GetAddress{}, true
	case KindReject:
		return &Reject{}, true
	case KindInv:
		return NewInv(), true
	case KindGetData:
		return NewGetData(), true
	case KindNotFound:
		return NewNotFound(), true
	}
	for _, k := range opaqueKinds {
		if k == kind {
			return NewOpaque(kind), true
		}
	}
	return nil, false
}

// AllKinds lists every kind the message subscriber maintains a
// dedicated handler slot for, i.e. every recognized kind.
func AllKinds() []Kind {
	kinds := []Kind{
		KindVersion, KindVerack, KindPing, KindPong, KindAddress,
		KindGetAddress, KindReject, KindInv, KindGetData, KindNotFound,
	}
	return append(kinds, opaqueKinds...)
}
