// Package livesync keeps cached list views in step with the backend push channel.
//
// A Channel holds one WebSocket connection per subscription and reconnects
// with capped exponential backoff. Every decoded message is an invalidation
// hint: Views check it against the filter for their current Key and, on a
// match, re-fetch the list from the REST API. Pushed payloads are never
// merged into cached data.
package livesync
