// Package client implements the endpoint protocol engine behind any
// presentation layer.
//
// The TCP engine performs the authentication handshake, surfaces inbound
// traffic as Events on a channel, and accepts exactly the outbound requests
// a front end needs: send chat, share a file, request an offered file, and
// close. It also answers the server's file_fetch by streaming the offered
// file in chunks. The UDP engine is opened with the per-login key delivered
// by the udp_key event and adds a keepalive worker; each engine owns its
// socket, and front ends interact only through Events and method calls.
package client
