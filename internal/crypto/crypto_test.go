package crypto

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got := common.Bytes2Hex(ethcrypto.FromECDSA(key)); got != testKeyHex {
		t.Fatalf("decrypted key mismatch: %s", got)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestLoadKeySources(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "zz"}); err == nil {
		t.Fatal("expected invalid hex to fail")
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex}); err != nil {
		t.Fatalf("raw key: %v", err)
	}
}

func TestTxSigner(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	if err != nil {
		t.Fatal(err)
	}
	chainID := big.NewInt(11155111)
	s, err := NewTxSigner(key, chainID)
	if err != nil {
		t.Fatalf("NewTxSigner: %v", err)
	}

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("recovered %s, want %s", from.Hex(), s.Address().Hex())
	}

	if _, err := NewTxSigner(key, big.NewInt(0)); err == nil {
		t.Fatal("expected zero chain id to fail")
	}
}
