// Package api provides the bridge's HTTP status API and WebSocket feed.
//
// All routes live under /api/v1:
//
//	GET /health                        bridge health
//	GET /devices                       known devices (?object= filters by object id)
//	GET /devices/{endpoint}            one device
//	GET /devices/{endpoint}/history    recent readings (?limit=)
//	GET /snapshot                      latest poll snapshot
//	GET /subscriptions                 active observations (admin)
//	GET /ws                            WebSocket feed
//
// When security.jwt.secret is set every route except /health requires a
// bearer token, passed in the Authorization header or, for WebSocket
// clients, the token query parameter.
//
// The server follows the same lifecycle pattern as the infrastructure
// clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
