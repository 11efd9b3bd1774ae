// Package push delivers catalog items to chats one at a time.
//
// Each chat that issued the begin command has a session with a next offset
// and at most one pending timer. When the timer fires the item at the offset
// is sent, offset+1 is persisted and the timer is armed again. A failed send
// counts as a skip. When the offset passes the end of the catalog the chat is
// told so, its session ends and its progress is reset to 0.
package push
