package models

import "github.com/ethereum/go-ethereum/common"

// Profile is the ledger's user registry entry. A "deleted" profile is one
// with every field cleared; the ledger has no removal operation.
type Profile struct {
	Account       common.Address `json:"account"`
	Username      string         `json:"username"`
	Bio           string         `json:"bio"`
	AvatarAddress string         `json:"avatarAddress"`
	Registered    bool           `json:"registered"`
}

// ViewerState is derived per (viewer, post) pair on every synchronization
// pass. It is never persisted and never carried across accounts.
type ViewerState struct {
	HasLiked    bool `json:"hasLiked"`
	IsFollowing bool `json:"isFollowing"`
}
