package chain

import "testing"

func TestFromName(t *testing.T) {
	bc, err := FromName("  Kusama ")
	if err != nil {
		t.Fatalf("FromName failed: %v", err)
	}
	if bc.Name != "kusama" || bc.NativeTicker != "KSM" {
		t.Errorf("unexpected blockchain %+v", bc)
	}

	if _, err := FromName("dogecoin"); err == nil {
		t.Error("unknown blockchain must be rejected")
	}
}

func TestNormalizeAddress(t *testing.T) {
	kusama, _ := FromName("kusama")
	ethereum, _ := FromName("ethereum")

	got, err := kusama.NormalizeAddress("MyFirstKusamaAddress")
	if err != nil {
		t.Fatalf("NormalizeAddress failed: %v", err)
	}
	if got != "myfirstkusamaaddress" {
		t.Errorf("expected lower-cased address, got %q", got)
	}

	if _, err := kusama.NormalizeAddress("   "); err == nil {
		t.Error("blank address must be rejected")
	}

	got, err = ethereum.NormalizeAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	if err != nil {
		t.Fatalf("NormalizeAddress failed: %v", err)
	}
	if got != "0xab5801a7d398351b8be11c439e05c5b3259aec9b" {
		t.Errorf("expected lower-cased hex address, got %q", got)
	}

	if _, err := ethereum.NormalizeAddress("not-an-address"); err == nil {
		t.Error("malformed hex address must be rejected")
	}
}

func TestIsNative(t *testing.T) {
	kusama, _ := FromName("kusama")

	if !kusama.IsNative("KSM") {
		t.Error("expected KSM to be native on kusama")
	}
	if kusama.IsNative("contractSell") {
		t.Error("token contract must not be native")
	}
}

func TestStandardFor(t *testing.T) {
	fungible := StandardFor("")
	if !fungible.Fungible() {
		t.Error("empty specifier must imply a fungible contract")
	}
	if got := fungible.DisplayToken("contractSell", ""); got != "contractSell" {
		t.Errorf("fungible token must render its contract, got %q", got)
	}

	serial := StandardFor("00000SELL")
	if serial.Fungible() {
		t.Error("specifier must imply a serialized contract")
	}
	if got := serial.DisplayToken("contractSell", "00000SELL"); got != "sn-00000SELL" {
		t.Errorf("serialized token must render its serial, got %q", got)
	}
}
