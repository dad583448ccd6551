// Package server provides the HTTP API and the CLI OAuth callback.
//
// # API
//
// [Server.Router] builds a chi router with request ids, request logging through charmbracelet/log and
// panic recovery. Routes:
//
//	GET  /health
//	GET  /auth/login                       redirect to the Spotify consent page
//	GET  /auth/callback                    store the user, return {user_id, display_name}
//	POST /api/library/{userID}/sync        replace the mirror, return the committed playlists
//	GET  /api/library/{userID}/playlists   stored playlists (?tracks=true to include tracks)
//	GET  /api/playlists/{playlistID}/tracks
//
// Failures are JSON bodies of the form {status, error, message}. Missing users and playlists map to 404,
// rejected credentials to 401, failed syncs and provider errors to 502.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the one-shot callback used by `mirror auth login`. It validates the state
// parameter (CSRF protection), exchanges the authorization code for tokens, and sends the result through a
// channel. It only processes one callback to prevent replay attacks.
package server
