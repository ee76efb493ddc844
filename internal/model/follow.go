package model

import "time"

// FollowEdge is a directed follow relation. At most one edge exists per
// ordered pair and FollowerID never equals FollowingID.
type FollowEdge struct {
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}
