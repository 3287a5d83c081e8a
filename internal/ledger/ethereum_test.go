package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"newswave/internal/nw"
)

func TestNewsRegistryABI(t *testing.T) {
	l, err := NewEthereumLedger(nil, common.HexToAddress("0x85dD1663091a31ACD2676BF975C172FC8aE8B659"), big.NewInt(1), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("NewEthereumLedger() error = %v", err)
	}
	for _, method := range []string{"uploadNews", "newsCount", "getNews"} {
		if _, ok := l.parsed.Methods[method]; !ok {
			t.Errorf("abi is missing method %s", method)
		}
	}
	ev, ok := l.parsed.Events["NewsUploaded"]
	if !ok {
		t.Fatal("abi is missing event NewsUploaded")
	}
	want := crypto.Keccak256Hash([]byte("NewsUploaded(string,string,uint256,address)"))
	if ev.ID != want {
		t.Errorf("NewsUploaded topic = %s, want %s", ev.ID.Hex(), want.Hex())
	}
}

func TestSignerKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	tests := []struct {
		name    string
		signer  nw.Identity
		wantErr bool
	}{
		{"matching key", nw.Identity{Address: addr, Key: key}, false},
		{"no key", nw.Identity{Address: addr}, true},
		{"key for another address", nw.Identity{Address: addr, Key: other}, true},
		{"not an address", nw.Identity{Address: "alice", Key: key}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signerKey(tt.signer)
			if (err != nil) != tt.wantErr {
				t.Fatalf("signerKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, nw.ErrIdentityUnavailable) {
				t.Errorf("signerKey() error = %v, want ErrIdentityUnavailable", err)
			}
		})
	}
}

func TestEthereumLedger_AppendRejectsKeylessSigner(t *testing.T) {
	l, err := NewEthereumLedger(nil, common.Address{}, big.NewInt(1), nw.NewNopLogger())
	if err != nil {
		t.Fatalf("NewEthereumLedger() error = %v", err)
	}
	// Fails before touching the (nil) backend.
	_, err = l.Append(context.Background(), nw.Identity{Address: "0x0000000000000000000000000000000000000001"}, "ref", "title")
	if !errors.Is(err, nw.ErrIdentityUnavailable) {
		t.Errorf("Append() error = %v, want ErrIdentityUnavailable", err)
	}
}
