package relay

// WelcomeText greets every freshly connected client
const WelcomeText = "Welcome to the chat relay!"

// ErrorReply renders err as the text sent back to the offending sender only.
// Storage details never leak to clients.
func ErrorReply(err error) []byte {
	if IsRegistryError(err) {
		return []byte("error: service unavailable, try again later")
	}
	return []byte("error: " + err.Error())
}
