// Package client is the Go SDK for the recap ledger HTTP API.
//
// # Submitting and reading back
//
// A client holding an identity token submits a digest and reads its streak:
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	entry, err := c.Submit(ctx, "", digest.SumHex(body))
//	switch {
//	case errors.Is(err, client.ErrAlreadySubmitted):
//	    // one per day
//	case err != nil:
//	    log.Fatal(err)
//	}
//	s, err := c.Streak(ctx, entry.Identity, nil)
//
// Every non-2xx response is an *APIError. On a replicated deployment a
// follower answers writes with 503 and the leader address, which
// errors.Is(err, ErrNotLeader) detects.
package client
