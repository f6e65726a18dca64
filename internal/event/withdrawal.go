package event

// NativeWithdraw takes native collateral out, subject to solvency.
type NativeWithdraw struct {
	Header
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func (w *NativeWithdraw) CommandType() CommandType {
	return CommandTypeNativeWithdraw
}

// TokenWithdraw takes contract token or future asset collateral out.
type TokenWithdraw struct {
	Header
	AssetName string `json:"asset_name"`
	Amount    string `json:"amount"`
}

func (w *TokenWithdraw) CommandType() CommandType {
	return CommandTypeTokenWithdraw
}

// FutureBorrow mints a future asset to Sender against their collateral.
type FutureBorrow struct {
	Header
	AssetName string `json:"asset_name"`
	Amount    string `json:"amount"`
}

func (b *FutureBorrow) CommandType() CommandType {
	return CommandTypeFutureBorrow
}
