// Package api serves the read-only status API of a gridctl process.
//
// Every driver process and the robot can expose it on their own port:
//
//   - GET /api/v1/health             liveness, version, connection health
//   - GET /api/v1/state              device state or robot status
//   - GET /api/v1/history            categories with retained entries
//   - GET /api/v1/history/{category} retained entries, oldest first
//   - GET /api/v1/macros             primitives and user functions (robot)
//   - GET /api/v1/stats              process counters
//   - GET /ws                        live feed
//
// The live feed speaks one JSON envelope both ways. A client sends
// {"type":"subscribe","id":"1","channels":["status"]}, gets an "ack"
// listing its channels, then receives
// {"type":"event","channel":"status","time":...,"data":{...}} for each
// admitted status-log entry. The robot relays bus lines on the "bus"
// channel. Events a slow client cannot buffer are dropped and counted in
// the health response.
//
// What each process serves is supplied by a Source. History and macro
// routes answer 404 when the Source does not provide them.
package api
