// Package messaging reconstructs conversation threads from flat message rows.
package messaging

import (
	"sort"
	"time"
)

// Synthetic conversation keys. Any other key is a user ID.
const (
	KeyGlobal  = "GLOBAL"
	KeySupport = "SUPPORT"
	KeyUnknown = "UNKNOWN"
)

// Profile is the sender/receiver snippet embedded on a message row.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Message is one immutable message row. Empty SenderID/ReceiverID means the
// side is absent (broadcast, legacy undirected ticket, or a deleted account).
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	IsGlobal   bool      `json:"isGlobal"`
	IsRead     bool      `json:"isRead"`
	ParentID   string    `json:"parentId,omitempty"`
	Sender     *Profile  `json:"sender,omitempty"`
	Receiver   *Profile  `json:"receiver,omitempty"`
}

// Contact is a candidate new-conversation target.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Role      string `json:"role"`
}

// Partner is the display metadata for one thread's far side.
type Partner struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Icon      string `json:"icon"`
	Synthetic bool   `json:"synthetic"`
}

// Thread is a derived grouping; recomputed on every reconstruction, never stored.
type Thread struct {
	Key      string    `json:"key"`
	Partner  Partner   `json:"partner"`
	Messages []Message `json:"messages"`
	Unread   int       `json:"unread"`
	LastAt   time.Time `json:"lastAt"`
}

// Classify maps a message to its conversation key for the given viewer.
// First match wins: global broadcast, malformed (no sender, no receiver),
// legacy undirected ticket, direct message.
func Classify(m Message, viewerID string, viewerIsAdmin bool) string {
	if m.IsGlobal {
		return KeyGlobal
	}
	if m.SenderID == "" && m.ReceiverID == "" {
		return KeySupport
	}
	if m.ReceiverID == "" {
		if viewerIsAdmin {
			return m.SenderID
		}
		return KeySupport
	}
	if m.SenderID == viewerID && m.ReceiverID != viewerID {
		return m.ReceiverID
	}
	if m.ReceiverID == viewerID && m.SenderID != viewerID {
		return m.SenderID
	}
	return KeyUnknown
}

// Belongs reports whether a message resolves to the given key. It is the
// classification rule run in reverse and backs mark-read and delete scoping.
func Belongs(m Message, key, viewerID string, viewerIsAdmin bool) bool {
	return Classify(m, viewerID, viewerIsAdmin) == key
}

// UnreadCount counts messages the viewer has not read. Messages the viewer
// sent are never unread for the viewer.
func UnreadCount(msgs []Message, viewerID string) int {
	count := 0
	for _, m := range msgs {
		if !m.IsRead && m.SenderID != viewerID {
			count++
		}
	}
	return count
}

// Malformed counts rows with neither sender nor receiver that are not
// broadcasts. The schema allows a NULL sender after account deletion, so this
// is a live branch; callers log it rather than failing.
func Malformed(msgs []Message) int {
	count := 0
	for _, m := range msgs {
		if !m.IsGlobal && m.SenderID == "" && m.ReceiverID == "" {
			count++
		}
	}
	return count
}

// Reconstruct partitions messages into threads for the viewer. Every input
// message lands in exactly one thread. Messages within a thread are sorted
// ascending by CreatedAt and threads descending by their last message's
// CreatedAt; both sorts are stable, so equal timestamps keep their prior
// relative order. Contacts resolve partners for threads whose messages carry
// no usable profile snippet.
func Reconstruct(msgs []Message, viewerID string, viewerIsAdmin bool, contacts []Contact) []Thread {
	groups := make(map[string][]Message)
	order := make([]string, 0)
	for _, m := range msgs {
		key := Classify(m, viewerID, viewerIsAdmin)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	threads := make([]Thread, 0, len(order))
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		threads = append(threads, Thread{
			Key:      key,
			Partner:  ResolvePartner(key, group, viewerID, contacts),
			Messages: group,
			Unread:   UnreadCount(group, viewerID),
			LastAt:   group[len(group)-1].CreatedAt,
		})
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastAt.After(threads[j].LastAt)
	})
	return threads
}

// ResolvePartner derives display metadata for a thread. It never fails: an
// unknown user ID degrades to a generic placeholder.
func ResolvePartner(key string, msgs []Message, viewerID string, contacts []Contact) Partner {
	switch key {
	case KeyGlobal:
		return Partner{Key: key, Name: "Announcements", Icon: "broadcast", Synthetic: true}
	case KeySupport:
		return Partner{Key: key, Name: "Support", Icon: "message", Synthetic: true}
	}
	for _, m := range msgs {
		if m.Sender != nil && m.Sender.ID == key {
			return Partner{Key: key, Name: m.Sender.Name, AvatarURL: m.Sender.AvatarURL, Icon: "person"}
		}
		if m.Receiver != nil && m.Receiver.ID == key {
			return Partner{Key: key, Name: m.Receiver.Name, AvatarURL: m.Receiver.AvatarURL, Icon: "person"}
		}
	}
	for _, c := range contacts {
		if c.ID == key {
			return Partner{Key: key, Name: c.Name, AvatarURL: c.AvatarURL, Icon: "person"}
		}
	}
	return Partner{Key: key, Name: "Unknown", Icon: "person"}
}
