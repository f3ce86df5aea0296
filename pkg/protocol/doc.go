// ABOUTME: Voxta hub wire protocol package
// ABOUTME: Defines hub records, $type messages, binary audio chunks and the websocket transport
// Package protocol implements the wire format spoken with a Voxta hub.
//
// Text frames carry record-separated JSON hub records; server events arrive
// as invocations of ReceiveMessage whose single argument is a $type message.
// Binary frames carry sequenced audio chunks.
//
// Example:
//
//	conn, err := protocol.Dial(ctx, protocol.DialConfig{URL: "ws://localhost:5384/hub"}, logger)
//	in, err := conn.Read()
package protocol
