// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "sync"

// MaxMessages is the maximum number of messages to keep in a conversation.
// When exceeded, the oldest messages are pruned.
const MaxMessages = 1000

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// ChangeKind describes what happened to a message.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRenamed
	ChangeRemoved
	ChangeReset
)

// Change is delivered to the conversation's observer after every mutation.
type Change struct {
	Kind    ChangeKind
	Message Message

	// OldID is set for ChangeRenamed.
	OldID string
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the displayed message list for one chat session.
//
// Every mutation takes the lock once, so a reconciler step that changes a
// message is observed either entirely or not at all. The observer runs
// after the lock is released.
type Conversation struct {
	SessionID string

	mu       sync.RWMutex
	messages []*Message
	index    map[string]*Message
	onChange func(Change)
}

// NewConversation creates an empty conversation for a session.
func NewConversation(sessionID string) *Conversation {
	return &Conversation{
		SessionID: sessionID,
		messages:  make([]*Message, 0),
		index:     make(map[string]*Message),
	}
}

// SetObserver installs fn as the change observer. Pass nil to remove it.
func (c *Conversation) SetObserver(fn func(Change)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Conversation) notify(fn func(Change), ch Change) {
	if fn != nil {
		fn(ch)
	}
}

// Add appends a message. An existing message with the same id is replaced
// in place instead.
func (c *Conversation) Add(msg Message) {
	c.mu.Lock()
	kind := ChangeAdded
	if existing, ok := c.index[msg.ID]; ok {
		*existing = msg
		kind = ChangeUpdated
	} else {
		m := msg
		c.messages = append(c.messages, &m)
		c.index[m.ID] = &m
		c.pruneOldMessages()
	}
	fn := c.onChange
	c.mu.Unlock()

	c.notify(fn, Change{Kind: kind, Message: msg})
}

// Get returns a copy of the message with the given id.
func (c *Conversation) Get(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.index[id]; ok {
		return *m, true
	}
	return Message{}, false
}

// Has reports whether a message with the given id exists.
func (c *Conversation) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Rename atomically changes a message's id. If newID already names another
// message, that entry is dropped in favour of the renamed one.
func (c *Conversation) Rename(oldID, newID string) bool {
	if oldID == newID {
		return c.Has(oldID)
	}

	c.mu.Lock()
	m, ok := c.index[oldID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if dup, exists := c.index[newID]; exists {
		c.removeLocked(dup)
	}
	delete(c.index, oldID)
	m.ID = newID
	c.index[newID] = m
	snapshot := *m
	fn := c.onChange
	c.mu.Unlock()

	c.notify(fn, Change{Kind: ChangeRenamed, Message: snapshot, OldID: oldID})
	return true
}

// Update applies fn to the message with the given id under the lock.
func (c *Conversation) Update(id string, fn func(*Message)) bool {
	c.mu.Lock()
	m, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	fn(m)
	m.ID = id
	snapshot := *m
	obs := c.onChange
	c.mu.Unlock()

	c.notify(obs, Change{Kind: ChangeUpdated, Message: snapshot})
	return true
}

// SetContent replaces a message's content.
func (c *Conversation) SetContent(id, content string) bool {
	return c.Update(id, func(m *Message) { m.Content = content })
}

// Append appends text to a message's content.
func (c *Conversation) Append(id, text string) bool {
	return c.Update(id, func(m *Message) { m.Content += text })
}

// SetStreaming marks a message as in flight or settled.
func (c *Conversation) SetStreaming(id string, streaming bool) bool {
	return c.Update(id, func(m *Message) { m.Streaming = streaming })
}

// SetRead sets a message's read flag.
func (c *Conversation) SetRead(id string, read bool) bool {
	return c.Update(id, func(m *Message) { m.IsRead = read })
}

// Remove deletes a message by id.
func (c *Conversation) Remove(id string) bool {
	c.mu.Lock()
	m, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	snapshot := *m
	c.removeLocked(m)
	fn := c.onChange
	c.mu.Unlock()

	c.notify(fn, Change{Kind: ChangeRemoved, Message: snapshot})
	return true
}

func (c *Conversation) removeLocked(target *Message) {
	for i, m := range c.messages {
		if m == target {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	delete(c.index, target.ID)
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return *c.messages[i], true
		}
	}
	return Message{}, false
}

// Messages returns a copy of all messages in display order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Replace adopts a durable history.
//
// If keep names a message that is still streaming, its streaming flag and
// any content the durable copy has not caught up to survive the
// replacement. If the durable list lacks it entirely it is re-appended.
func (c *Conversation) Replace(durable []Message, keep string) {
	c.mu.Lock()
	var kept *Message
	if keep != "" {
		if m, ok := c.index[keep]; ok {
			cp := *m
			kept = &cp
		}
	}

	c.messages = make([]*Message, 0, len(durable)+1)
	c.index = make(map[string]*Message, len(durable)+1)
	for _, d := range durable {
		m := d
		if kept != nil && m.ID == kept.ID && kept.Streaming {
			if len(kept.Content) >= len(m.Content) {
				m.Content = kept.Content
			}
			m.Streaming = true
			kept = nil
		} else if kept != nil && m.ID == kept.ID {
			kept = nil
		}
		if _, dup := c.index[m.ID]; dup {
			continue
		}
		c.messages = append(c.messages, &m)
		c.index[m.ID] = &m
	}
	if kept != nil {
		c.messages = append(c.messages, kept)
		c.index[kept.ID] = kept
	}
	c.pruneOldMessages()
	fn := c.onChange
	c.mu.Unlock()

	c.notify(fn, Change{Kind: ChangeReset})
}

// pruneOldMessages drops the oldest messages beyond MaxMessages.
// Caller holds the lock.
func (c *Conversation) pruneOldMessages() {
	if len(c.messages) <= MaxMessages {
		return
	}
	drop := len(c.messages) - MaxMessages
	for _, m := range c.messages[:drop] {
		delete(c.index, m.ID)
	}
	c.messages = append([]*Message(nil), c.messages[drop:]...)
}
