package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/model"
)

// Badger is a Store backed by an embedded BadgerDB.
//
// Key layout:
//
//	m/{hex(conversation)}/{unix_nano 19 digits}/{seq 20 digits} -> message JSON
//	i/{id}                                                    -> message key
//	r/{hex(identity)}/{hex(conversation)}                     -> key of the latest message
//
// The zero padded timestamp and sequence keep a conversation's messages in
// chronological order under a prefix scan.
type Badger struct {
	db    *badger.DB
	seq   *badger.Sequence
	clock Clock
	mu    sync.Mutex
}

// NewBadger opens (creating if needed) the database in dir.
func NewBadger(dir string, opts ...Option) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return newBadger(db, opts)
}

func newBadger(db *badger.DB, opts []Option) (*Badger, error) {
	seq, err := db.GetSequence([]byte("seq/messages"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	o := buildOptions(opts)
	return &Badger{
		db:    db,
		seq:   seq,
		clock: o.clock,
	}, nil
}

func conversationPrefix(conversationID string) []byte {
	return []byte("m/" + hex.EncodeToString([]byte(conversationID)) + "/")
}

func messageKey(conversationID string, at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%019d/%020d", conversationPrefix(conversationID), at.UnixNano(), seq))
}

func idKey(id string) []byte {
	return []byte("i/" + id)
}

func roomPrefix(identity string) []byte {
	return []byte("r/" + hex.EncodeToString([]byte(identity)) + "/")
}

func roomKey(identity, conversationID string) []byte {
	return append(roomPrefix(identity), []byte(hex.EncodeToString([]byte(conversationID)))...)
}

func readMessage(txn *badger.Txn, key []byte) (*model.Message, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var msg model.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func writeMessage(txn *badger.Txn, key []byte, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return txn.Set(key, data)
}

// lastMessage returns the key and message of the newest entry under prefix,
// skipping the key in skip.
func lastMessage(txn *badger.Txn, prefix []byte, skip []byte) ([]byte, *model.Message, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if skip != nil && bytes.Equal(item.Key(), skip) {
			continue
		}
		key := item.KeyCopy(nil)
		var msg model.Message
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return nil, nil, err
		}
		return key, &msg, nil
	}
	return nil, nil, nil
}

// Save implements Gateway.
func (s *Badger) Save(_ context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.ID = uuid.Must(uuid.NewV7()).String()

	n, err := s.seq.Next()
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("next sequence: %w", err))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		var lastAt time.Time
		_, last, err := lastMessage(txn, conversationPrefix(stored.ConversationID), nil)
		if err != nil {
			return err
		}
		if last != nil {
			lastAt = last.CreatedAt
		}
		stored.CreatedAt = stamp(s.clock(), lastAt)

		key := messageKey(stored.ConversationID, stored.CreatedAt, n)
		if err := writeMessage(txn, key, &stored); err != nil {
			return err
		}
		if err := txn.Set(idKey(stored.ID), key); err != nil {
			return err
		}
		if err := txn.Set(roomKey(stored.SenderID, stored.ConversationID), key); err != nil {
			return err
		}
		return txn.Set(roomKey(stored.ReceiverID, stored.ConversationID), key)
	})
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("save message: %w", err))
	}
	return &stored, nil
}

// ListByConversation implements Gateway.
func (s *Badger) ListByConversation(_ context.Context, conversationID, subjectEntityID string, limit int) ([]model.Message, error) {
	return s.scanConversation(conversationID, subjectEntityID, limit, nil)
}

// ListBetween implements Store.
func (s *Badger) ListBetween(_ context.Context, a, b, subjectEntityID string, limit int) ([]model.Message, error) {
	return s.scanConversation(conversation.Resolve(a, b), subjectEntityID, limit, func(msg *model.Message) bool {
		return between(msg, a, b)
	})
}

// scanConversation returns up to limit messages of the conversation in key
// order, skipping those keep rejects.
func (s *Badger) scanConversation(conversationID, subjectEntityID string, limit int, keep func(*model.Message) bool) ([]model.Message, error) {
	limit = normalizeLimit(limit)
	messages := make([]model.Message, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg model.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if subjectEntityID != "" && msg.SubjectEntityID != subjectEntityID {
				continue
			}
			if keep != nil && !keep(&msg) {
				continue
			}
			messages = append(messages, msg)
			if len(messages) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("list conversation %s: %w", conversationID, err))
	}
	return messages, nil
}

// ListRoomsForParticipant implements Gateway.
func (s *Badger) ListRoomsForParticipant(_ context.Context, identity string) ([]model.Message, error) {
	rooms := make([]model.Message, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(identity)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			msg, err := readMessage(txn, key)
			if err != nil {
				return err
			}
			rooms = append(rooms, *msg)
		}
		return nil
	})
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("list rooms for %s: %w", identity, err))
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// Get implements Store.
func (s *Badger) Get(_ context.Context, id string) (*model.Message, error) {
	var msg *model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		msg, err = readMessage(txn, key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.NotFound("message not found")
	}
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("get message %s: %w", id, err))
	}
	return msg, nil
}

// MarkRead implements Store.
func (s *Badger) MarkRead(_ context.Context, conversationID, subjectEntityID, reader string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		updated = 0
		prefix := conversationPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)

		type change struct {
			key []byte
			msg model.Message
		}
		var changes []change
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg model.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				it.Close()
				return err
			}
			if msg.ReceiverID != reader || msg.Read {
				continue
			}
			if subjectEntityID != "" && msg.SubjectEntityID != subjectEntityID {
				continue
			}
			msg.Read = true
			changes = append(changes, change{key: it.Item().KeyCopy(nil), msg: msg})
		}
		it.Close()

		for _, c := range changes {
			if err := writeMessage(txn, c.key, &c.msg); err != nil {
				return err
			}
		}
		updated = len(changes)
		return nil
	})
	if err != nil {
		return 0, model.StoreUnavailable(fmt.Errorf("mark read %s: %w", conversationID, err))
	}
	return updated, nil
}

// CountUnread implements Store.
func (s *Badger) CountUnread(_ context.Context, conversationID, reader string) (int, error) {
	unread := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg model.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if msg.ReceiverID == reader && !msg.Read {
				unread++
			}
		}
		return nil
	})
	if err != nil {
		return 0, model.StoreUnavailable(fmt.Errorf("count unread %s: %w", conversationID, err))
	}
	return unread, nil
}

// Delete implements Store. Room pointers that referenced the deleted message
// are moved to the previous message of the conversation, or removed.
func (s *Badger) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		msg, err := readMessage(txn, key)
		if err != nil {
			return err
		}

		prevKey, _, err := lastMessage(txn, conversationPrefix(msg.ConversationID), key)
		if err != nil {
			return err
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(idKey(id)); err != nil {
			return err
		}

		for _, participant := range []string{msg.SenderID, msg.ReceiverID} {
			rk := roomKey(participant, msg.ConversationID)
			ri, err := txn.Get(rk)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			current, err := ri.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(current, key) {
				continue
			}
			if prevKey == nil {
				if err := txn.Delete(rk); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(rk, prevKey); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.NotFound("message not found")
	}
	if err != nil {
		return model.StoreUnavailable(fmt.Errorf("delete message %s: %w", id, err))
	}
	return nil
}

// Ping implements Store.
func (s *Badger) Ping(context.Context) error {
	if s.db.IsClosed() {
		return model.StoreUnavailable(errors.New("badger is closed"))
	}
	return nil
}

// Close implements Store.
func (s *Badger) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
