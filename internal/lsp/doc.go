// Package lsp holds the Language Server Protocol surface of the autostep
// server: the protocol types it speaks, the Content-Length framed JSON-RPC
// connection, and the pure translations from engine results into protocol
// values.
//
// # Diagnostics
//
// TranslateMessages converts compiler messages into diagnostics. Engine
// positions are 1-based with an inclusive end column; protocol ranges are
// 0-based and end-exclusive. A message without an end column becomes a
// zero-width range at its start.
//
//	diags := lsp.TranslateMessages(result.ForPath(path))
//
// # Completion
//
// SynthesizeCandidates expands step matches into completion candidates. A
// definition with a $component$ placeholder yields one candidate per valid
// component unless the reference already names one. Unbound arguments become
// numbered snippet tab-stops:
//
//	I type {value} into the $component$
//	  -> I type ${1:value} into the button
//
// CompletionItems maps candidates to protocol completion items.
//
// # Transport
//
// Conn reads requests and notifications from the client and writes responses
// and server notifications, framing each message with a Content-Length
// header.
package lsp
