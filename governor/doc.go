// Package governor puts a response cache, request coalescing and the
// resilience pipeline in front of a rate-limited upstream API.
//
// A [Governor] answers [Governor.Fetch] from its cache when it can. On a
// miss, concurrent callers for the same key share one upstream call; that
// call takes a token from the shared bucket for every attempt, retries
// transient failures with backoff and stores a successful result under the
// TTL of its category. Failures are never cached.
//
// Callers that stop waiting get ctx.Err() at once. The upstream call they
// started carries on for the remaining waiters and is only cancelled by
// [Governor.Close].
//
//	g, err := governor.New(governor.Config{})
//	if err != nil {
//	    return err
//	}
//	defer g.Close(ctx)
//
//	player, err := governor.FetchAs(ctx, g, "player:steam:Ace", cache.CategoryPlayer,
//	    func(ctx context.Context) (*pubg.Player, error) {
//	        return client.PlayerByName(ctx, "steam", "Ace")
//	    })
package governor
