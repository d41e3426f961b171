package wallet

// Source tags a journal entry with the business reason for the change.
type Source string

const (
	SourceDailyClaim    Source = "daily_claim"
	SourceSessionReward Source = "session_reward"
	SourceArcadeWin     Source = "arcade_win"
	SourceArcadeStake   Source = "arcade_stake"
	SourceStorePurchase Source = "store_purchase"
	SourceStoreRefund   Source = "store_refund"
	SourceTransferIn    Source = "transfer_in"
	SourceTransferOut   Source = "transfer_out"
	SourceAdminGrant    Source = "admin_grant"
	SourceAdminRevoke   Source = "admin_revoke"
	SourceBonus         Source = "bonus"
	SourceBurn          Source = "burn"
	SourceEscrowLock    Source = "escrow_lock"
	SourceEscrowRelease Source = "escrow_release"
	SourceEscrowRefund  Source = "escrow_refund"
	SourceEscrowForfeit Source = "escrow_forfeit"
	SourceSettlement    Source = "settlement"
	SourceSettlementNet Source = "settlement_net"
)

// mintSources are the tags accepted by the public Mint operation. The
// remaining credit tags are reserved for internal moves (transfers, escrow
// resolution, fee-burn settlement).
var mintSources = map[Source]bool{
	SourceDailyClaim:    true,
	SourceSessionReward: true,
	SourceArcadeWin:     true,
	SourceStoreRefund:   true,
	SourceAdminGrant:    true,
	SourceBonus:         true,
}

// burnSources are the tags accepted by the public Burn operation. Disjoint
// from mintSources.
var burnSources = map[Source]bool{
	SourceArcadeStake:   true,
	SourceStorePurchase: true,
	SourceAdminRevoke:   true,
	SourceBurn:          true,
}

// creditSources and debitSources are the full per-direction validity sets,
// covering internal moves as well as the public operations.
var creditSources = map[Source]bool{
	SourceDailyClaim:    true,
	SourceSessionReward: true,
	SourceArcadeWin:     true,
	SourceStoreRefund:   true,
	SourceTransferIn:    true,
	SourceAdminGrant:    true,
	SourceBonus:         true,
	SourceBurn:          true,
	SourceEscrowLock:    true,
	SourceEscrowRelease: true,
	SourceEscrowRefund:  true,
	SourceEscrowForfeit: true,
	SourceSettlementNet: true,
}

var debitSources = map[Source]bool{
	SourceArcadeStake:   true,
	SourceStorePurchase: true,
	SourceTransferOut:   true,
	SourceAdminRevoke:   true,
	SourceEscrowLock:    true,
	SourceEscrowRelease: true,
	SourceEscrowRefund:  true,
	SourceEscrowForfeit: true,
	SourceSettlement:    true,
	SourceBurn:          true,
}

// IsMintSource reports whether s may be supplied to the public Mint call.
func IsMintSource(s Source) bool { return mintSources[s] }

// IsBurnSource reports whether s may be supplied to the public Burn call.
func IsBurnSource(s Source) bool { return burnSources[s] }

// ValidFor reports whether s is permitted on a leg with direction d.
func (s Source) ValidFor(d Direction) bool {
	switch d {
	case Credit:
		return creditSources[s]
	case Debit:
		return debitSources[s]
	default:
		return false
	}
}
