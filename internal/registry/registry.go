// Package registry holds the supported asset table and the admin slot.
package registry

import (
	"encoding/json"
	"fmt"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/store"
)

const (
	assetsNamespace = "supported_assets"
	adminNamespace  = "admin"
)

// Registry reads and writes assets and the admin through a KV, normally
// the Txn of the call in progress.
type Registry struct {
	kv store.KV
}

func New(kv store.KV) *Registry {
	return &Registry{kv: kv}
}

// === Admin ===

func adminKey() []byte {
	return store.Key(adminNamespace)
}

// Admin returns the current admin and whether one is set.
func (r *Registry) Admin() (string, bool, error) {
	v, ok, err := r.kv.Get(adminKey())
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}

// Instantiate seeds the admin slot. It fails once an admin exists.
func (r *Registry) Instantiate(admin string) error {
	if err := ValidateAddress(admin); err != nil {
		return err
	}
	_, ok, err := r.Admin()
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: admin already set", errs.ErrUnauthorized)
	}
	return r.kv.Set(adminKey(), []byte(admin))
}

// AssertAdmin fails with ErrUnauthorized unless caller is the admin.
func (r *Registry) AssertAdmin(caller string) error {
	admin, ok, err := r.Admin()
	if err != nil {
		return err
	}
	if !ok || admin != caller {
		return fmt.Errorf("%w: %q is not admin", errs.ErrUnauthorized, caller)
	}
	return nil
}

// UpdateAdmin hands the admin role from caller to newAdmin.
func (r *Registry) UpdateAdmin(caller, newAdmin string) error {
	if err := r.AssertAdmin(caller); err != nil {
		return err
	}
	if err := ValidateAddress(newAdmin); err != nil {
		return err
	}
	return r.kv.Set(adminKey(), []byte(newAdmin))
}

// === Assets ===

func assetKey(name string) []byte {
	return store.Key(assetsNamespace, name)
}

// AddAsset registers a new asset. Admin only.
func (r *Registry) AddAsset(caller string, asset Asset) error {
	if err := r.AssertAdmin(caller); err != nil {
		return err
	}

	asset.Normalize()
	if err := asset.Validate(); err != nil {
		return err
	}

	_, exists, err := r.kv.Get(assetKey(asset.Name))
	if err != nil {
		return err
	}
	if exists {
		return errs.Asset("add_asset", asset.Name, errs.ErrAlreadyRegistered)
	}

	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshal asset %s: %w", asset.Name, err)
	}
	return r.kv.Set(assetKey(asset.Name), data)
}

// RemoveAsset drops an asset definition. Open positions in the asset are
// left in place. Removing an unknown asset fails with ErrNotSupported and
// changes nothing.
func (r *Registry) RemoveAsset(caller, name string) error {
	if err := r.AssertAdmin(caller); err != nil {
		return err
	}

	_, exists, err := r.kv.Get(assetKey(name))
	if err != nil {
		return err
	}
	if !exists {
		return errs.Asset("remove_asset", name, errs.ErrNotSupported)
	}
	return r.kv.Delete(assetKey(name))
}

// GetAsset returns the definition or ErrNotSupported.
func (r *Registry) GetAsset(name string) (*Asset, error) {
	data, ok, err := r.kv.Get(assetKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Asset("get_asset", name, errs.ErrNotSupported)
	}

	var a Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal asset %s: %w", name, err)
	}
	return &a, nil
}

// ListAssets returns every asset ordered by name.
func (r *Registry) ListAssets() ([]Asset, error) {
	pairs, err := r.kv.RangePrefix(store.Prefix(assetsNamespace))
	if err != nil {
		return nil, err
	}

	out := make([]Asset, 0, len(pairs))
	for _, p := range pairs {
		var a Asset
		if err := json.Unmarshal(p.Value, &a); err != nil {
			return nil, fmt.Errorf("unmarshal asset: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
