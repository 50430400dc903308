// Package worker implements the request-intercepting side of the offline
// layer: a CacheManager that classifies every request into a caching
// strategy, keeps four named, versioned stores warm and answers from them
// when the network is unavailable.
//
// # Strategies
//
// Requests are classified in priority order:
//
//   - static: path equals one of the app-shell assets; cache-first
//   - api: path is under an API prefix; network-first, reads written
//     through to the api store, offline writes captured to the outbox
//   - image: path has an image extension; cache-first, misses written
//     through to the image store
//   - fallback: everything else; network-first, same-origin 200 responses
//     written through to the dynamic store
//
// Network failures never surface as errors: Handle always returns a
// response, falling back to a cached copy, the cached offline page or a
// synthesized 503.
//
// # Lifecycle
//
// A CacheManager moves through installing, installed, activating, active
// and superseded. Install opens the stores and pre-populates the static
// store; Activate drops every store that is not one of the current
// versioned names. Until it is active the manager passes requests
// straight to the network.
//
// # Usage
//
//	mgr, err := worker.NewCacheManager(worker.DefaultConfig("https://app.example"),
//		cache.NewMemoryStorage(), fetch.New(fetch.DefaultConfig()))
//	if err != nil {
//		return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", mgr)
package worker
