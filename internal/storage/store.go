package storage

// Store bundles the guild and subscription stores with the response cache
// so callers can depend on one value.
type Store struct {
	*GuildStore
	*SubscriptionStore
	Cache *CacheStore
}

// NewStore creates all stores on top of db.
func NewStore(db *Database) *Store {
	return &Store{
		GuildStore:        NewGuildStore(db),
		SubscriptionStore: NewSubscriptionStore(db),
		Cache:             NewCacheStore(db),
	}
}
