package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/model"
	"github.com/capitalize-ai/listing-chat/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// seedStore points the commands at a fresh sqlite file holding msgs.
func seedStore(t *testing.T, msgs ...*model.Message) {
	t.Helper()
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "chat.db")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)

	st, err := store.NewSQLite(path)
	require.NoError(t, err)
	for _, msg := range msgs {
		_, err := st.Save(context.Background(), msg)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())
}

func message(sender, receiver, subject, text string) *model.Message {
	return &model.Message{
		ConversationID:  conversation.Resolve(sender, receiver),
		SenderID:        sender,
		ReceiverID:      receiver,
		SubjectEntityID: subject,
		Text:            text,
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "chatctl dev")
	assert.Contains(t, out, "commit: none")
}

func TestTokenCmd(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "listing-chat")

	out, err := runCmd(t, "token", "--identity", "alice", "--ttl", "1h")
	require.NoError(t, err)

	identity, err := auth.NewJWTProvider("cli-secret", "listing-chat").
		VerifyCredential(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestTokenCmdRequiresIdentity(t *testing.T) {
	_, err := runCmd(t, "token")
	require.Error(t, err)

	_, err = runCmd(t, "token", "--identity", "  ")
	require.Error(t, err)

	_, err = runCmd(t, "token", "--identity", "alice", "--ttl", "-1h")
	require.Error(t, err)
}

func TestHistoryCmd(t *testing.T) {
	seedStore(t,
		message("alice", "bob", "p1", "first"),
		message("bob", "alice", "p2", "other listing"),
		message("bob", "alice", "p1", "second"),
	)

	out, err := runCmd(t, "history", "--a", "bob", "--b", "alice", "--subject", "p1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first, second model.Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "first", first.Text)
	assert.Equal(t, "second", second.Text)

	out, err = runCmd(t, "history", "--a", "alice", "--b", "bob", "--limit", "1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestRoomsCmd(t *testing.T) {
	seedStore(t,
		message("alice", "bob", "p1", "to bob"),
		message("carol", "bob", "p9", "to bob from carol"),
	)

	out, err := runCmd(t, "rooms", "--identity", "bob")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var newest model.RoomSummary
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &newest))
	assert.Equal(t, "carol", newest.PeerID)
	assert.Equal(t, 1, newest.UnreadCount)
}

func TestHistoryCmdRejectsMemoryStore(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_DRIVER", "memory")

	_, err := runCmd(t, "history", "--a", "alice", "--b", "bob")
	require.Error(t, err)
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
