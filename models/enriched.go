package models

// EnrichedPost joins the ledger-resident post with everything the view
// needs: content-store body, author profile, comments and viewer state.
// Any of the joined parts may be a documented fallback when its fetch
// failed; the post record itself is always authoritative.
type EnrichedPost struct {
	Post
	Content  PostContent `json:"content"`
	Profile  Profile     `json:"profile"`
	Comments []Comment   `json:"comments"`
	Viewer   ViewerState `json:"viewer"`
}
