// Package api provides the HTTP surface of the roomlink dev server.
//
// Endpoints:
//
//   - GET /ws - Upgrade to the room protocol WebSocket
//   - GET /api/health - Liveness check
//   - GET /api/rooms?name=lobby - Rooms with free capacity (all types when name is empty)
//   - GET /api/rooms/types - Declared room types
//   - GET /api/rooms/{name} - Rooms of one type, 404 for an unknown type
//
// Room lists are JSON:
//
//	{
//	  "name": "lobby",
//	  "count": 1,
//	  "rooms": [{"room_id": "3f2a9c1b", "name": "lobby", "clients": 1, "max_clients": 4}]
//	}
//
// Errors are returned as {"error": "message"} with an appropriate status.
package api
