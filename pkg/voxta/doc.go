// ABOUTME: High-level Voxta client library API
// ABOUTME: Wires the hub connection, session machine and audio pipelines behind one Client
// Package voxta provides a high-level client for Voxta conversational characters.
//
// This is the main entry point for most library users, providing:
//   - Client: Connect to a Voxta server, start a chat and talk to a character
//   - Callbacks for session state, connection state, transcripts, reply text and errors
//   - Stream and URL audio output modes
//
// For lower-level control, see the audio and protocol packages.
//
// Example:
//
//	client, err := voxta.NewClient(voxta.ClientConfig{
//	    URL:    "ws://localhost:5384/hub",
//	    APIKey: "secret",
//	    Input:  input.NewMalgo(),
//	    Output: output.NewMalgo(),
//	})
//	err = client.Connect(ctx)
//	_, err = client.StartChat(ctx, characterID)
//	err = client.StartSpeaking(ctx)
//	err = client.StopSpeaking(ctx)
package voxta
