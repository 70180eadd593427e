// Package redis runs the queue's atomic procedures against Redis.
//
// Every state transition is one Lua script under lua/. Scripts share helper
// fragments from lua/includes through an include directive expanded once
// at package init into a static registry (see [Lookup]). A [Store] invokes
// them with EVALSHA, falling back to EVAL, and maps the scripts' negative
// status codes to *strand.ScriptError.
//
// The store is stateless beyond the client. Key names come from the keys
// package, so one Store serves any number of queues:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.CheckVersion(ctx); err != nil { ... }
//	id, err := s.AddJob(ctx, keys.New("strand", "mail"), redis.AddJobArgs{...})
//
// The caller owns the Redis client lifecycle.
package redis
