// Package pubg fetches player, season, stats and match data from the PUBG
// developer API through a governor.Governor.
//
// [Client] performs the raw HTTP calls and classifies failures: 404, 400,
// 401 and 403 are permanent, while 429 and 5xx are transient. A 429 carries
// the upstream Retry-After hint, which the governor uses to pause the
// shared rate limiter. [Service] wraps each call in a governed fetch keyed
// by "<category>:<shard>:<subject>" so bot features share cached results,
// coalesce concurrent lookups and stay inside the API key's rate limit.
//
// [UserMessage] turns any error returned here into a short message suitable
// for a Discord reply.
package pubg
