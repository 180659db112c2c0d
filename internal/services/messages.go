package services

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/tbourn/go-pedidos-client/internal/domain"
)

// messageList is a room's message list. It is kept stable-sorted ascending
// by timestamp after every mutation. Not safe for concurrent use.
//
// Server ids identify messages. Broadcasts may carry none, so content
// (sender, second, body) is only used to pair an own send with its
// broadcast, and a history batch with broadcasts that arrived before it.
// Two id-less inbound messages are never merged.
type messageList struct {
	items []domain.ChatMessage
	// own holds the local keys of messages sent from this session.
	own map[string]bool
	// pending are own sends still waiting for their broadcast, oldest first.
	pending []pendingSend
}

type pendingSend struct {
	key     string
	localID string
}

func contentKey(m domain.ChatMessage) string {
	return m.SenderID + "\x00" + strconv.FormatInt(m.Timestamp.Unix(), 10) + "\x00" + m.Body
}

func (l *messageList) byID(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *messageList) byLocal(localID string) int {
	for i := range l.items {
		if l.items[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// absorb folds a duplicate into the stored copy at i. A missing server id is
// filled in and a message erased on either side stays erased.
func (l *messageList) absorb(i int, m domain.ChatMessage) domain.ChatMessage {
	cur := &l.items[i]
	if cur.ID == "" {
		cur.ID = m.ID
	}
	if m.Erased() && !cur.Erased() {
		cur.Erase()
	}
	l.settle(cur.LocalID)
	return *cur
}

// settle drops localID from the pending sends.
func (l *messageList) settle(localID string) {
	for j, p := range l.pending {
		if p.localID == localID {
			l.pending = append(l.pending[:j], l.pending[j+1:]...)
			return
		}
	}
}

// claimPending returns the oldest own send m is the broadcast of, or -1.
func (l *messageList) claimPending(m domain.ChatMessage) int {
	k := contentKey(m)
	for _, p := range l.pending {
		if p.key != k {
			continue
		}
		i := l.byLocal(p.localID)
		if i < 0 || (m.ID != "" && l.items[i].ID != "") {
			continue
		}
		return i
	}
	return -1
}

func (l *messageList) insert(m domain.ChatMessage) domain.ChatMessage {
	if m.LocalID == "" {
		m.LocalID = uuid.NewString()
	}
	l.items = append(l.items, m)
	l.sort()
	return m
}

// add merges one inbound message and returns the stored copy. A duplicate
// keeps its position and local key.
func (l *messageList) add(m domain.ChatMessage) domain.ChatMessage {
	m.ApplyDefaults()
	if i := l.byID(m.ID); i >= 0 {
		return l.absorb(i, m)
	}
	if i := l.claimPending(m); i >= 0 {
		return l.absorb(i, m)
	}
	return l.insert(m)
}

// addOwn stores a message this session just sent. When its broadcast
// already arrived it is paired with that copy instead.
func (l *messageList) addOwn(m domain.ChatMessage) domain.ChatMessage {
	m.ApplyDefaults()
	if l.own == nil {
		l.own = map[string]bool{}
	}
	if i := l.byID(m.ID); i >= 0 {
		l.own[l.items[i].LocalID] = true
		return l.absorb(i, m)
	}
	k := contentKey(m)
	for i := range l.items {
		it := l.items[i]
		if it.ID == "" && !l.own[it.LocalID] && contentKey(it) == k {
			l.own[it.LocalID] = true
			return l.absorb(i, m)
		}
	}
	stored := l.insert(m)
	l.own[stored.LocalID] = true
	l.pending = append(l.pending, pendingSend{key: k, localID: stored.LocalID})
	return stored
}

// mergeHistory merges one history batch. Entries pair by server id first.
// Otherwise an entry may pair by content with a stored message when one of
// the two lacks an id; every stored message pairs at most once per batch,
// so repeated identical messages survive.
func (l *messageList) mergeHistory(batch []domain.ChatMessage) {
	paired := map[string]bool{}
	for _, m := range batch {
		m.ApplyDefaults()
		i := l.byID(m.ID)
		if i < 0 {
			i = l.claimPending(m)
		}
		if i < 0 {
			i = l.unpaired(m, paired)
		}
		if i >= 0 {
			paired[l.absorb(i, m).LocalID] = true
			continue
		}
		paired[l.insert(m).LocalID] = true
	}
}

func (l *messageList) unpaired(m domain.ChatMessage, paired map[string]bool) int {
	k := contentKey(m)
	for i := range l.items {
		it := l.items[i]
		if paired[it.LocalID] || (it.ID != "" && m.ID != "") {
			continue
		}
		if contentKey(it) == k {
			return i
		}
	}
	return -1
}

func (l *messageList) sort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].Timestamp.Before(l.items[j].Timestamp)
	})
}

// find looks a message up by server id or local key.
func (l *messageList) find(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.items {
		if l.items[i].ID == id || l.items[i].LocalID == id {
			return i
		}
	}
	return -1
}

func (l *messageList) newest() string {
	if len(l.items) == 0 {
		return ""
	}
	return l.items[len(l.items)-1].LocalID
}

func (l *messageList) snapshot() []domain.ChatMessage {
	return append([]domain.ChatMessage(nil), l.items...)
}
