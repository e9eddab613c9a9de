package server

import (
	"github.com/google/uuid"
)

// BridgeMetadata describes the bridge listener and its peer.
type BridgeMetadata struct {
	ID              string `json:"id"`
	Protocol        string `json:"protocol"`
	Address         string `json:"address"`
	Running         bool   `json:"running"`
	PeerID          string `json:"peer_id,omitempty"`
	PeerAddr        string `json:"peer_addr,omitempty"`
	DroppedMessages int64  `json:"dropped_messages"`
	RejectedPeers   int64  `json:"rejected_peers"`
}

func generatePeerId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
