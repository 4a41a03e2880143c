package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	PasswordHash string `msgpack:"passwordHash"`
	Admin        bool   `msgpack:"admin"`
	LastSeen     int64  `msgpack:"lastSeen"`
	Status       string `msgpack:"status"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChat struct {
	ID            string         `msgpack:"id"`
	Kind          string         `msgpack:"kind"`
	Participants  []string       `msgpack:"participants"`
	LastContent   string         `msgpack:"lastContent"`
	LastSenderID  string         `msgpack:"lastSenderId"`
	LastTimestamp int64          `msgpack:"lastTimestamp"`
	Unread        map[string]int `msgpack:"unread"`
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID          string   `msgpack:"id"`
	ChatID      string   `msgpack:"chatId"`
	SenderID    string   `msgpack:"senderId"`
	Content     string   `msgpack:"content"`
	MediaKind   string   `msgpack:"mediaKind"`
	MediaURL    string   `msgpack:"mediaUrl"`
	CreatedAt   int64    `msgpack:"createdAt"`
	EditedAt    int64    `msgpack:"editedAt"`
	DeliveredAt int64    `msgpack:"deliveredAt"`
	ReadBy      []string `msgpack:"readBy"`
	DeletedFor  []string `msgpack:"deletedFor"`
	Deleted     bool     `msgpack:"deleted"`
}

// Key orders messages chronologically within a chat bucket: big-endian
// creation timestamp with the message ID as tiebreak.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message record from its ID alone.
type DBMessageRef struct {
	ChatID string `msgpack:"chatId"`
	MsgKey []byte `msgpack:"msgKey"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

// Key namespaces subscriptions per user so they can be listed with a
// prefix scan; the endpoint makes multiple browsers per user distinct.
func (s *DBPushSubscription) Key() []byte {
	return []byte(s.UserID + "\x00" + s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
