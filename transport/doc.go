// Package transport implements the JSON-over-HTTP wire contract of the
// node: the server side that exposes a Node's RPC surface, and the client
// side used to call the peer node's copy of the same surface.
//
// Every call is a POST with a JSON body and returns a JSON body carrying a
// numeric status code (0 = success) plus optional error text:
//
//	/qkd_open                   client -> node
//	/qkd_register_peer          peer   -> node
//	/qkd_connect_blocking       client -> node
//	/qkd_connect_peer           peer   -> node
//	/qkd_check_peer_connection  peer   -> node
//	/qkd_exchange_bases         peer   -> node
//	/qkd_get_key                client -> node
//	/qkd_status                 client -> node
//	/qkd_close                  client -> node
//	/qkd_close_peer             peer   -> node
//
// The peer channel carries no authentication or transport security; it is
// assumed to run on a trusted network segment.
package transport
