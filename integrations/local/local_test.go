package local

import (
	"testing"

	"deedmarket/native/fees"
	"deedmarket/native/market"
	"deedmarket/storage"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestAdminRolesAndKYC(t *testing.T) {
	admin := NewAdmin(fees.Config{RateBps: 250}, false)
	holder := addr(0x01)

	if admin.HasRole(market.RoleAdmin, holder) {
		t.Fatalf("role granted before Grant")
	}
	admin.Grant(market.RoleAdmin, holder)
	if !admin.HasRole(market.RoleAdmin, holder) {
		t.Fatalf("granted role not visible")
	}
	if admin.HasRole(market.RoleMarketAdmin, holder) {
		t.Fatalf("roles must not bleed across names")
	}

	if admin.IsKYCVerified(holder) {
		t.Fatalf("verified before Verify")
	}
	admin.Verify(holder)
	if !admin.IsKYCVerified(holder) {
		t.Fatalf("verification not visible")
	}

	if admin.FeeConfig().Base != fees.DefaultPercentageBase {
		t.Fatalf("fee config not normalized")
	}
}

func TestAdminOpenKYC(t *testing.T) {
	admin := NewAdmin(fees.Config{}, true)
	if !admin.IsKYCVerified(addr(0x09)) {
		t.Fatalf("open KYC must verify everyone")
	}
}

func TestAssetsMintAndTransfer(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	assets := NewAssets(db)
	alice := addr(0x01)
	bob := addr(0x02)

	if _, err := assets.OwnerOf(1); err == nil {
		t.Fatalf("unminted token has an owner")
	}
	if err := assets.Mint(1, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := assets.Mint(1, bob); err == nil {
		t.Fatalf("double mint succeeded")
	}
	owner, err := assets.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != alice {
		t.Fatalf("owner = %x", owner[:1])
	}

	if err := assets.SafeTransferFrom(bob, alice, 1, nil); err == nil {
		t.Fatalf("transfer by non-owner succeeded")
	}
	if err := assets.SafeTransferFrom(alice, [20]byte{}, 1, nil); err == nil {
		t.Fatalf("transfer to zero address succeeded")
	}
	if err := assets.SafeTransferFrom(alice, bob, 1, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, err = assets.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != bob {
		t.Fatalf("owner after transfer = %x", owner[:1])
	}
}

func TestTokensResolver(t *testing.T) {
	tokens := NewTokens()
	if _, err := tokens.Token(addr(0xAA)); err == nil {
		t.Fatalf("unknown binding resolved")
	}
	tokens.Register(addr(0xAA), nil)
	if _, err := tokens.Token(addr(0xAA)); err != nil {
		t.Fatalf("registered binding not resolved: %v", err)
	}
}
