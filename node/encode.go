package node

import (
	"encoding/json"

	"github.com/losnetwork/los-node/ledgertypes"
)

// encodeBlock is the wire encoding used for the base64 block payloads in
// CONFIRM_REQ and BLOCK_CONFIRMED (§6): plain JSON, matching MINE_BLOCK's
// own block_json payload for consistency across message types.
func encodeBlock(b *ledgertypes.Block) ([]byte, error) {
	return json.Marshal(b)
}

func decodeBlock(data []byte) (*ledgertypes.Block, error) {
	var b ledgertypes.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
