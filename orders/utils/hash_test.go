package utils

import (
	"testing"

	"github.com/tradebay/escrowd/models/factory"
)

func TestCalcOrderID(t *testing.T) {
	contract := factory.NewContract("buyer", "vendor")

	id1, err := CalcOrderID(contract)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := CalcOrderID(contract)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("Order ID is not deterministic: %s != %s", id1, id2)
	}

	contract.Amount = "999"
	id3, err := CalcOrderID(contract)
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id1 {
		t.Error("Different contracts produced the same order ID")
	}
}

func TestMultihashSha256(t *testing.T) {
	mh, err := MultihashSha256([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := MultihashSha256([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if mh.B58String() != decoded.B58String() {
		t.Error("Multihash is not deterministic")
	}
}
