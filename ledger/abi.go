package ledger

// contractABI is the read/write surface of the social contract. Content
// addresses cross this boundary as opaque strings.
const contractABI = `[
	{"type":"function","name":"postCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"posts","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"},{"name":"author","type":"address"},{"name":"contentCid","type":"string"},{"name":"timestamp","type":"uint256"},{"name":"likes","type":"uint256"}]},
	{"type":"function","name":"commentCount","stateMutability":"view","inputs":[{"name":"postId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getComment","stateMutability":"view","inputs":[{"name":"postId","type":"uint256"},{"name":"index","type":"uint256"}],"outputs":[{"name":"author","type":"address"},{"name":"text","type":"string"},{"name":"timestamp","type":"uint256"}]},
	{"type":"function","name":"getUser","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"username","type":"string"},{"name":"bio","type":"string"},{"name":"avatarCid","type":"string"},{"name":"registered","type":"bool"}]},
	{"type":"function","name":"hasLiked","stateMutability":"view","inputs":[{"name":"postId","type":"uint256"},{"name":"viewer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isFollowing","stateMutability":"view","inputs":[{"name":"follower","type":"address"},{"name":"followee","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"createPost","stateMutability":"nonpayable","inputs":[{"name":"contentCid","type":"string"}],"outputs":[]},
	{"type":"function","name":"likePost","stateMutability":"nonpayable","inputs":[{"name":"postId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"addComment","stateMutability":"nonpayable","inputs":[{"name":"postId","type":"uint256"},{"name":"text","type":"string"}],"outputs":[]},
	{"type":"function","name":"follow","stateMutability":"nonpayable","inputs":[{"name":"target","type":"address"}],"outputs":[]},
	{"type":"function","name":"unfollow","stateMutability":"nonpayable","inputs":[{"name":"target","type":"address"}],"outputs":[]},
	{"type":"function","name":"register","stateMutability":"nonpayable","inputs":[{"name":"username","type":"string"},{"name":"bio","type":"string"},{"name":"avatarCid","type":"string"}],"outputs":[]},
	{"type":"function","name":"updateProfile","stateMutability":"nonpayable","inputs":[{"name":"username","type":"string"},{"name":"bio","type":"string"},{"name":"avatarCid","type":"string"}],"outputs":[]},
	{"type":"event","name":"PostCreated","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"author","type":"address","indexed":true},{"name":"contentCid","type":"string","indexed":false}],"anonymous":false},
	{"type":"event","name":"PostLiked","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"liker","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"CommentAdded","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"author","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"Followed","inputs":[{"name":"follower","type":"address","indexed":true},{"name":"followee","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"Unfollowed","inputs":[{"name":"follower","type":"address","indexed":true},{"name":"followee","type":"address","indexed":true}],"anonymous":false},
	{"type":"event","name":"ProfileUpdated","inputs":[{"name":"account","type":"address","indexed":true}],"anonymous":false}
]`
