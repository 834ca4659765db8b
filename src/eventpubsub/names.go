package eventpubsub

const (
	TopicReconnected   = "session:reconnected"
	TopicListenerError = "session:listener_error"
)
