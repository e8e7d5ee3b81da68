package chatwoot

// ============================================================================
// Callback Sink
// ============================================================================

// Callbacks is the observer surface the repository drives. Every field is
// optional: a nil handler is skipped, never an error. Handlers are invoked
// synchronously from the repository's flow of control, so keep them fast and
// hand heavy work to your own goroutine.
//
// OnMessageDelivered confirms a message this client sent (it carries the echo
// id the send was issued with); OnMessageReceived is an inbound message from
// the other party. OnError is the only failure channel the repository has;
// its ClientError payload carries the echo id when a send fails.
type Callbacks struct {
	OnError                      func(*ClientError)
	OnWelcome                    func()
	OnPing                       func()
	OnConfirmedSubscription      func()
	OnMessagesRetrieved          func([]Message)
	OnPersistedMessagesRetrieved func([]Message)
	OnMessageSent                func(Message, string)
	OnMessageDelivered           func(Message, string)
	OnMessageReceived            func(Message)
	OnConversationStartedTyping  func()
	OnConversationStoppedTyping  func()
	OnConversationIsOnline       func()
	OnConversationIsOffline      func()
}

func (c *Callbacks) emitError(e *ClientError) {
	if c.OnError != nil {
		c.OnError(e)
	}
}

func (c *Callbacks) emitWelcome() {
	if c.OnWelcome != nil {
		c.OnWelcome()
	}
}

func (c *Callbacks) emitPing() {
	if c.OnPing != nil {
		c.OnPing()
	}
}

func (c *Callbacks) emitConfirmedSubscription() {
	if c.OnConfirmedSubscription != nil {
		c.OnConfirmedSubscription()
	}
}

func (c *Callbacks) emitMessagesRetrieved(msgs []Message) {
	if c.OnMessagesRetrieved != nil {
		c.OnMessagesRetrieved(msgs)
	}
}

func (c *Callbacks) emitPersistedMessagesRetrieved(msgs []Message) {
	if c.OnPersistedMessagesRetrieved != nil {
		c.OnPersistedMessagesRetrieved(msgs)
	}
}

func (c *Callbacks) emitMessageSent(m Message, echoID string) {
	if c.OnMessageSent != nil {
		c.OnMessageSent(m, echoID)
	}
}

func (c *Callbacks) emitMessageDelivered(m Message, echoID string) {
	if c.OnMessageDelivered != nil {
		c.OnMessageDelivered(m, echoID)
	}
}

func (c *Callbacks) emitMessageReceived(m Message) {
	if c.OnMessageReceived != nil {
		c.OnMessageReceived(m)
	}
}

func (c *Callbacks) emitStartedTyping() {
	if c.OnConversationStartedTyping != nil {
		c.OnConversationStartedTyping()
	}
}

func (c *Callbacks) emitStoppedTyping() {
	if c.OnConversationStoppedTyping != nil {
		c.OnConversationStoppedTyping()
	}
}

func (c *Callbacks) emitConversationOnline() {
	if c.OnConversationIsOnline != nil {
		c.OnConversationIsOnline()
	}
}

func (c *Callbacks) emitConversationOffline() {
	if c.OnConversationIsOffline != nil {
		c.OnConversationIsOffline()
	}
}
