package publisher

// Publisher delivers session events to an external sink.
type Publisher interface {
	PublishSessionEvent(event SessionEvent) error
	Close()
}
