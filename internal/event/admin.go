package event

import (
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"
)

// Instantiate seeds the admin slot with Sender.
type Instantiate struct {
	Header
}

func (i *Instantiate) CommandType() CommandType {
	return CommandTypeInstantiate
}

type AddSupportedAsset struct {
	Header
	Asset registry.Asset `json:"asset"`
}

func (a *AddSupportedAsset) CommandType() CommandType {
	return CommandTypeAddSupportedAsset
}

type RemoveSupportedAsset struct {
	Header
	AssetName string `json:"asset_name"`
}

func (r *RemoveSupportedAsset) CommandType() CommandType {
	return CommandTypeRemoveSupportedAsset
}

type UpdateAdmin struct {
	Header
	NewAdmin string `json:"new_admin"`
}

func (u *UpdateAdmin) CommandType() CommandType {
	return CommandTypeUpdateAdmin
}

type AddPriceSource struct {
	Header
	PriceKey string        `json:"price_key"`
	Source   oracle.Source `json:"source"`
}

func (a *AddPriceSource) CommandType() CommandType {
	return CommandTypeAddPriceSource
}
