package handler

// Publisher receives ledger events for the admin feed.
type Publisher interface {
	Publish(eventType string, accountID int64, data map[string]any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, int64, map[string]any) {}

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
