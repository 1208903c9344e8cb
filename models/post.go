package models

import "github.com/ethereum/go-ethereum/common"

// Post is the ledger-owned record. Everything except LikeCount is immutable
// once created; the content itself lives in the content store under
// ContentAddress.
type Post struct {
	ID             uint64         `json:"id"`
	Author         common.Address `json:"author"`
	ContentAddress string         `json:"contentAddress"`
	CreatedAt      int64          `json:"createdAt"`
	LikeCount      uint64         `json:"likeCount"`
}

// PostContent is the content-store blob referenced by Post.ContentAddress.
// Once fetched it never changes (content addressing), so it is safe to cache.
type PostContent struct {
	Text         string `json:"text"`
	ImageAddress string `json:"imageAddress,omitempty"`
	CreatedAt    int64  `json:"createdAt,omitempty"`
}

// FallbackContent replaces a post's content when the store fetch fails.
// The post itself still renders; only its body is degraded.
func FallbackContent() PostContent {
	return PostContent{Text: "[failed]"}
}

type Comment struct {
	Author    common.Address `json:"author"`
	Text      string         `json:"text"`
	CreatedAt int64          `json:"createdAt"`
}
