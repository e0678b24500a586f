package domain

// TransferResult counts the rows moved by a guest migration. All zeros
// means there was nothing left to move.
type TransferResult struct {
	ConversationsTransferred int64 `json:"conversations_transferred"`
	MessagesTransferred      int64 `json:"messages_transferred"`
	RateLimitsTransferred    int64 `json:"rate_limits_transferred"`
}

// IsEmpty returns true when nothing was transferred.
func (r TransferResult) IsEmpty() bool {
	return r.ConversationsTransferred == 0 && r.MessagesTransferred == 0 && r.RateLimitsTransferred == 0
}
