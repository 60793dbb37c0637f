// Package conversation implements the chat widget's session controller as pure
// state transitions.
//
// A State holds the message history, the staged input and the in-flight flag.
// Every operation takes a State and returns a new one; nothing here performs I/O.
// Submit hands back a SendEffect that the host executes against a response
// provider, and the host feeds the settled result into ResolveSend:
//
//	s := conversation.Initialize()
//	s = conversation.SelectSuggestion(s, "How can I borrow funds?")
//	s, effect, err := conversation.Submit(s)
//	// run effect.Message through a provider, then:
//	s, err = conversation.ResolveSend(s, conversation.Succeeded(reply))
//
// Single-flight is enforced here: Submit refuses to start a second send while
// one is outstanding, and ResolveSend refuses a result when none is pending.
package conversation
