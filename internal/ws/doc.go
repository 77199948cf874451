// Package ws streams the live alert and health state to dashboard
// clients over WebSocket. The hub broadcasts a JSON envelope on a fixed
// interval; clients are kept alive with ping/pong and dropped when
// their send buffer backs up.
package ws
