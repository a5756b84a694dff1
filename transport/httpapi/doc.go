// Package httpapi exposes the channel control surface and the consume
// streams over HTTP.
//
// Routes:
//
//	POST /start/{channel}    launch the channel's producer (409 if active)
//	POST /stop/{channel}     cancel the producer (404 if unknown)
//	POST /clear/{channel}    wipe history, reset the sequence counter and
//	                         force-close every attached session
//	POST /shutdown           stop all channels and sessions
//	POST /publish/{channel}  publish the request body as one message
//	GET  /consume/{channel}  Server-Sent Events stream, ?from=<sequence>
//	GET  /ws/{channel}       WebSocket stream, ?from=<sequence>
//	GET  /channels           list tracked channels and their states
//	GET  /health             readiness probe
//
// Consume streams replay persisted history from the requested cursor and then
// follow with live messages, each framed as "data: <json>\n\n" (SSE) or one
// JSON text frame (WebSocket). A stream stays open until the client
// disconnects or the channel is cleared.
package httpapi
