// Package socketio implements the small subset of the Socket.IO v2 client
// protocol needed to receive events from a push service: the Engine.IO v3
// websocket transport, heartbeats, events on the default namespace and
// reconnecting with exponential backoff.
package socketio
