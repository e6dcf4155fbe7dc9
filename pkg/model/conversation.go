package model

// ConversationID returns the stable storage key for a user pair. User IDs are
// sorted so both participants derive the same key.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
