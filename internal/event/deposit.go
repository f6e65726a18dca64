package event

// Coin is an amount of a native denom attached to a call.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// NativeDeposit credits every attached coin as collateral.
type NativeDeposit struct {
	Header
	Funds []Coin `json:"funds"`
}

func (d *NativeDeposit) CommandType() CommandType {
	return CommandTypeNativeDeposit
}

// TokenDeposit is delivered by a token contract on behalf of Sender after
// the tokens were transferred in. TokenContract is the delivering contract.
type TokenDeposit struct {
	Header
	TokenContract string `json:"token_contract"`
	AssetName     string `json:"asset_name"`
	Amount        string `json:"amount"`
}

func (d *TokenDeposit) CommandType() CommandType {
	return CommandTypeTokenDeposit
}
