// Package ragcache is an embeddable Go client for the ragcache retrieval core:
// a dynamic cache that answers a query from internal knowledge stored in
// Valkey and, in parallel, from an external keyword search API, then merges
// both into one ranked list.
//
// Search never fails once the client is open. Stage failures degrade to
// fewer results and, at worst, to internal knowledge only.
//
//	client, _ := ragcache.New(ctx,
//	    ragcache.WithValkey("localhost:6379", ""),
//	    ragcache.WithEmbedder(myEmbedder),
//	    ragcache.WithVectorDimensions(768),
//	    ragcache.WithExternalSearch(myAPI),
//	)
//	defer client.Close()
//
//	_, _ = client.Ingest(ctx, []ragcache.Record{{Content: "...", Data: map[string]any{}}})
//	results, _ := client.Search(ctx, "how does the cache expire entries?")
package ragcache
