package filters

const (
	// AnnotationAutoReply marks a message generated by another automated responder.
	AnnotationAutoReply = "postmaster.is_auto_reply"
	// AnnotationSkipAutoReply suppresses any automatic answer to the message.
	AnnotationSkipAutoReply = "postmaster.skip_auto_reply"
)
