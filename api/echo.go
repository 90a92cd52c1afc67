package api

const replyPrefix = "You said: "

// Reply is the text written back for a received text message.
func Reply(text string) string { return replyPrefix + text }
