// Package fetch retrieves memory payloads from the export service.
//
// Every download is a two-step exchange: the signed descriptor URL from
// the catalog is split into its endpoint and query payload, the payload
// is posted back form-encoded, and the response body is the short-lived
// URL of the actual media. The client retries transient failures with
// jittered exponential backoff and classifies everything else as fatal
// for the item.
//
// # Usage
//
//	client := fetch.NewClient(fetch.Options{
//	    MaxRetries: 3,
//	    Backoff:    time.Second,
//	})
//
//	res, err := client.Fetch(ctx, item)
//	// res.Data, res.Ext, res.Overlay
//
// # Bundles
//
// Items carrying a zip link are fetched as a container and handed to the
// bundle package, which separates the base asset from its overlay. The
// container case is recognized by the declared content type or by the
// zip magic signature.
package fetch
