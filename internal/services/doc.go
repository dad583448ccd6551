// Package services talks to the Spotify Web API on behalf of the sync engine.
//
// # Catalog
//
// [CatalogClient] reads the three library collections (saved tracks, playlists, playlist tracks)
// through one limit/offset pagination helper. Requests share a rate limiter, are bounded by a
// per-call timeout and fail with [shared.ProviderError]:
//   - RateLimited: 429, Retry-After honoured once
//   - Unauthorized: 401, one token refresh then fatal
//   - Forbidden: 403
//   - Transient: 5xx, network error or timeout, retried with capped exponential backoff
//   - Malformed: undecodable body, other 4xx, or pagination that never ends
//
// # Tokens
//
// [Authenticator] owns the OAuth2 configuration. Each sync run binds its own [TokenContext],
// which refreshes at most once per rejected token and writes the new pair back through [UserSaver].
//
// # Mapping
//
// [Mapper] turns raw records into [models.Track] and [models.Playlist], substituting
// "Unknown Track", "Unknown Artist" and "Unknown Album" for missing fields.
package services
