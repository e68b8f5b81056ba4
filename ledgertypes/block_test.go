package ledgertypes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/losnetwork/los-node/addr"
	"github.com/losnetwork/los-node/chainsig"
	"github.com/losnetwork/los-node/config"
)

func TestBlockTypeStringer(t *testing.T) {
	require.Equal(t, "Send", Send.String())
	require.Equal(t, "Receive", Receive.String())
	require.Equal(t, "Mint", Mint.String())
	require.Equal(t, "Slash", Slash.String())
	require.Equal(t, "Change", Change.String())
	require.Equal(t, "ContractDeploy", ContractDeploy.String())
	require.Equal(t, "ContractCall", ContractCall.String())
	require.Equal(t, "Unknown", BlockType(200).String())
}

func signedBlock(t *testing.T) (*Block, *chainsig.PrivateKey) {
	t.Helper()
	priv, err := chainsig.GenerateKey()
	require.NoError(t, err)
	b := &Block{
		AccountStr: "los1abc",
		Previous:   ZeroHead,
		Type:       Send,
		Amount:     100,
		Link:       "bob",
		Work:       42,
		Timestamp:  1000,
		Fee:        1,
		PublicKey:  priv.PublicKeyBytes(),
	}
	hash, err := b.SigningHash(config.ChainIDTestnet)
	require.NoError(t, err)
	b.Signature = priv.Sign(hash)
	return b, priv
}

func TestSigningHashExcludesSignature(t *testing.T) {
	b, _ := signedBlock(t)
	before, err := b.SigningHash(config.ChainIDTestnet)
	require.NoError(t, err)

	b.Signature = append([]byte{}, b.Signature...)
	b.Signature[0] ^= 0xFF
	after, err := b.SigningHash(config.ChainIDTestnet)
	require.NoError(t, err)

	require.Equal(t, before, after)
}

func TestSigningHashIsDomainSeparatedByChainID(t *testing.T) {
	b, _ := signedBlock(t)
	testnetHash, err := b.SigningHash(config.ChainIDTestnet)
	require.NoError(t, err)
	mainnetHash, err := b.SigningHash(config.ChainIDMainnet)
	require.NoError(t, err)

	require.NotEqual(t, testnetHash, mainnetHash)
}

func TestHashChangesWhenSignatureChanges(t *testing.T) {
	b, _ := signedBlock(t)
	before, err := b.Hash()
	require.NoError(t, err)

	b.Signature = append([]byte{}, b.Signature...)
	b.Signature[0] ^= 0xFF
	after, err := b.Hash()
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestHashHexIsLowercaseHexOfHash(t *testing.T) {
	b, _ := signedBlock(t)
	h, err := b.Hash()
	require.NoError(t, err)
	hexStr, err := b.HashHex()
	require.NoError(t, err)

	require.Equal(t, hexEncode(h), hexStr)
	require.Len(t, hexStr, len(h)*2)
}

func TestHashHexIsDeterministic(t *testing.T) {
	b, _ := signedBlock(t)
	first, err := b.HashHex()
	require.NoError(t, err)
	second, err := b.HashHex()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSenderParsesAccountStr(t *testing.T) {
	b, priv := signedBlock(t)
	b.AccountStr = addr.FromPublicKey(priv.PublicKeyBytes()).String()

	sender, err := b.Sender()
	require.NoError(t, err)
	require.Equal(t, b.AccountStr, sender.String())
}

func TestSenderRejectsMalformedAccountStr(t *testing.T) {
	b, _ := signedBlock(t)
	b.AccountStr = "not-a-real-address"

	_, err := b.Sender()
	require.Error(t, err)
}
