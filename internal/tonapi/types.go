package tonapi

// Event represents a TonAPI event
type Event struct {
	EventID    string   `json:"event_id"`
	Actions    []Action `json:"actions"`
	InProgress bool     `json:"in_progress"`
}

// Action represents an action within an event
type Action struct {
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	TonTransfer    *TonTransfer    `json:"TonTransfer,omitempty"`
	JettonTransfer *JettonTransfer `json:"JettonTransfer,omitempty"`
}

// Action statuses
const (
	ActionStatusOK     = "ok"
	ActionStatusFailed = "failed"
)

// TonTransfer represents a TON transfer action
type TonTransfer struct {
	Sender    Account `json:"sender"`
	Recipient Account `json:"recipient"`
	Amount    int64   `json:"amount"` // in nanoTON
}

// JettonTransfer represents a jetton transfer action. Sender is absent for
// mints and recipient for burns.
type JettonTransfer struct {
	Sender    *Account   `json:"sender,omitempty"`
	Recipient *Account   `json:"recipient,omitempty"`
	Amount    string     `json:"amount"` // in jetton units
	Jetton    JettonInfo `json:"jetton"`
}

// JettonInfo identifies the jetton by its master address
type JettonInfo struct {
	Address string `json:"address"`
}

// Account represents an account/wallet
type Account struct {
	Address string `json:"address"`
}
