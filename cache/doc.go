// Package cache provides a uniform caching contract over several backing
// stores, with tag based invalidation and multi-tier composition.
//
// Handlers:
//
//   - NewInMemory: in-process map with a background reaper. Values are stored
//     as-is.
//   - NewRedis: values encoded with a Codec (msgpack by default) and stored
//     with a native expiry. The handler keeps a sorted-set index of every key
//     it wrote, scored by expiry, plus one sorted set per tag, so pattern,
//     tag and namespace removal never need a keyspace scan.
//   - NewSQLite: encoded values in a local database file.
//
// Set the compress option, or wrap a codec in GzipCodec, to gzip encoded
// values.
//
// Keys are built with CreateKey from ordered segments. A key of the form
// "container#field" addresses a field inside a container; expiry and
// deletion apply to the whole container.
//
// A write without an expiry uses the handler's cron schedule, by default the
// next minute boundary. Pass NoExpiry to keep a value until it is removed.
//
// Collection chains handlers into tiers: reads return the first hit, writes
// and removals go to every tier. Registry and LoadFile build a Collection
// from a YAML file:
//
//	handlers:
//	  - name: local
//	    type: memory
//	  - name: shared
//	    type: redis
//	    prefix: provision
//	    options:
//	      url: redis://localhost:6379/0
//	      query_timeout: 2s
//	      compress: true
//
// Handler methods are untyped; use the generic Get, GetValue, GetByTag,
// GetAs, AddOrUpdate and Exec helpers to work with concrete types.
//
//	h := cache.NewInMemory(ctx)
//	defer h.Close()
//	key, _ := h.CreateKey("reports", 1234567, "k4", 2014)
//	cache.AddOrUpdate(ctx, h, key, report, time.Now().Add(time.Hour), "reports")
//	item := cache.Get[Report](ctx, h, key)
package cache
