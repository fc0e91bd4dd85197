package constants

import "time"

// gin context keys
const (
	DbField   = "db"
	UserField = "user"
)

// cache key prefixes
const (
	CacheKeyProfileByUID = "profile:"
)

const ProfileCacheExpiration = 5 * time.Minute
