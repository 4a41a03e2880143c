package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"perepiska/internal/api"
	"perepiska/internal/auth"
	"perepiska/internal/models"
)

const (
	testAdminAddr = "127.0.0.1:8890"
	testAPIAddr   = "127.0.0.1:8889"
)

func TestIntegration(t *testing.T) {
	dbFile := "integration_test.db"
	_ = os.Remove(dbFile)
	defer func() { _ = os.Remove(dbFile) }()

	uploadsDir, err := os.MkdirTemp("", "integration_uploads")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(uploadsDir) }()

	_ = os.Setenv("PEREPISKA_DB", dbFile)
	_ = os.Setenv("ADMIN_ADDR", testAdminAddr)
	_ = os.Setenv("API_ADDR", testAPIAddr)
	_ = os.Setenv("UPLOADS_PATH", uploadsDir)
	defer func() {
		_ = os.Unsetenv("PEREPISKA_DB")
		_ = os.Unsetenv("ADMIN_ADDR")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("UPLOADS_PATH")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/metrics", testAdminAddr), 20)

	client := &http.Client{}

	// Step 1: provision two users through the admin API.
	alice := addUser(t, client, "alice")
	bob := addUser(t, client, "bob")

	// Step 2: log both in.
	aliceToken := login(t, client, "alice", alice.Password)
	bobToken := login(t, client, "bob", bob.Password)

	// Step 3: bob opens a websocket session before any messages flow.
	wsURL := fmt.Sprintf("ws://%s/api/chat", testAPIAddr)
	header := http.Header{}
	header.Set("token", bobToken)
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer func() { _ = wsConn.Close() }()

	// Step 4: alice creates a direct chat with bob.
	chatBody, _ := json.Marshal(map[string]any{
		"kind":         "direct",
		"participants": []string{alice.UserID, bob.UserID},
	})
	var chat models.Chat
	doJSON(t, client, "POST", apiURL("/api/chats"), aliceToken, chatBody, http.StatusCreated, &chat)
	require.Len(t, chat.Participants, 2)

	// Step 5: alice sends a message; the REST response carries the
	// persisted record.
	msgBody, _ := json.Marshal(map[string]string{"content": "Hello world"})
	var sent api.MessageView
	doJSON(t, client, "POST", apiURL("/api/chats/"+chat.ID+"/messages"), aliceToken, msgBody, http.StatusCreated, &sent)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, "Hello world", sent.Content)
	require.NotZero(t, sent.DeliveredAt)

	// Step 6: bob's websocket session observes the message-created event.
	ev := waitForEvent(t, wsConn, models.EventMessageCreated)
	require.NotNil(t, ev.Message)
	require.Equal(t, sent.ID, ev.Message.ID)
	require.Equal(t, "Hello world", ev.Message.Content)

	// Step 7: bob's chat list shows the summary and one unread message.
	var bobChats []models.Chat
	doJSON(t, client, "GET", apiURL("/api/chats"), bobToken, nil, http.StatusOK, &bobChats)
	require.Len(t, bobChats, 1)
	require.NotNil(t, bobChats[0].LastMessage)
	require.Equal(t, "Hello world", bobChats[0].LastMessage.Content)
	require.Equal(t, 1, bobChats[0].Unread[bob.UserID])

	// Step 8: bob marks the chat read; the counter resets.
	doJSON(t, client, "POST", apiURL("/api/chats/"+chat.ID+"/read"), bobToken, nil, http.StatusNoContent, nil)
	doJSON(t, client, "GET", apiURL("/api/chats"), bobToken, nil, http.StatusOK, &bobChats)
	require.Equal(t, 0, bobChats[0].Unread[bob.UserID])

	// Step 9: alice edits the message; bob hears about it.
	editBody, _ := json.Marshal(map[string]string{"content": "Hello, world!"})
	var edited api.MessageView
	doJSON(t, client, "PATCH", apiURL("/api/chats/"+chat.ID+"/messages/"+sent.ID), aliceToken, editBody, http.StatusOK, &edited)
	require.Equal(t, "Hello, world!", edited.Content)
	require.NotZero(t, edited.EditedAt)

	ev = waitForEvent(t, wsConn, models.EventMessageEdited)
	require.Equal(t, "Hello, world!", ev.Message.Content)

	// Step 10: bob cannot edit alice's message.
	resp := doRaw(t, client, "PATCH", apiURL("/api/chats/"+chat.ID+"/messages/"+sent.ID), bobToken, editBody)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// Step 11: history pagination over the wire.
	var history struct {
		ChatID   string            `json:"chatId"`
		Messages []api.MessageView `json:"messages"`
		More     bool              `json:"more"`
	}
	doJSON(t, client, "GET", apiURL("/api/chats/"+chat.ID+"/messages?offset=0&limit=50"), bobToken, nil, http.StatusOK, &history)
	require.Equal(t, chat.ID, history.ChatID)
	require.Len(t, history.Messages, 1)
	require.False(t, history.More)

	// Step 12: alice deletes the message for everyone; a second delete
	// reports the conflict.
	doJSON(t, client, "DELETE", apiURL("/api/chats/"+chat.ID+"/messages/"+sent.ID+"?forAll=true"), aliceToken, nil, http.StatusNoContent, nil)
	ev = waitForEvent(t, wsConn, models.EventMessageDeleted)
	require.Equal(t, sent.ID, ev.Message.ID)

	resp = doRaw(t, client, "DELETE", apiURL("/api/chats/"+chat.ID+"/messages/"+sent.ID+"?forAll=true"), aliceToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	doJSON(t, client, "GET", apiURL("/api/chats/"+chat.ID+"/messages"), bobToken, nil, http.StatusOK, &history)
	require.Empty(t, history.Messages)

	// Step 13: moderation delete through the admin API.
	msgBody, _ = json.Marshal(map[string]string{"content": "against the rules"})
	doJSON(t, client, "POST", apiURL("/api/chats/"+chat.ID+"/messages"), aliceToken, msgBody, http.StatusCreated, &sent)
	waitForEvent(t, wsConn, models.EventMessageCreated)

	root := addAdmin(t, client, "root")
	modBody, _ := json.Marshal(map[string]string{"messageId": sent.ID, "actorId": root.UserID})
	req, _ := http.NewRequest("POST", fmt.Sprintf("http://%s/admin/messages/delete", testAdminAddr), bytes.NewReader(modBody))
	req.Header.Set("Content-Type", "application/json")
	modResp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, modResp.StatusCode)
	_ = modResp.Body.Close()

	doJSON(t, client, "GET", apiURL("/api/chats/"+chat.ID+"/messages"), bobToken, nil, http.StatusOK, &history)
	require.Empty(t, history.Messages)
}

func apiURL(path string) string {
	return fmt.Sprintf("http://%s%s", testAPIAddr, path)
}

type createdUser struct {
	UserID   string
	Password string
}

func addUser(t *testing.T, client *http.Client, username string) createdUser {
	t.Helper()
	return provisionUser(t, client, username, false)
}

func addAdmin(t *testing.T, client *http.Client, username string) createdUser {
	t.Helper()
	return provisionUser(t, client, username, true)
}

func provisionUser(t *testing.T, client *http.Client, username string, admin bool) createdUser {
	t.Helper()
	reqBody, _ := json.Marshal(api.AddUserRequest{Username: username, DisplayName: username, Admin: admin})
	resp, err := client.Post(fmt.Sprintf("http://%s/admin/users", testAdminAddr), "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created api.AddUserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.True(t, created.Success)
	require.NotEmpty(t, created.Password)
	return createdUser{UserID: created.UserID, Password: created.Password}
}

func login(t *testing.T, client *http.Client, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(auth.LoginRequest{Username: username, Password: password})
	req, _ := http.NewRequest("POST", apiURL("/api/login"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", fmt.Sprintf("http://%s", testAPIAddr))
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

// doJSON performs a request with the token cookie and same-origin
// header, asserts the status and decodes the response into out.
func doJSON(t *testing.T, client *http.Client, method, url, token string, body []byte, wantStatus int, out any) {
	t.Helper()
	resp := doRaw(t, client, method, url, token, body)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func doRaw(t *testing.T, client *http.Client, method, url, token string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", fmt.Sprintf("http://%s", testAPIAddr))
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// waitForEvent reads events off the socket until one of the wanted kind
// arrives, skipping presence and typing noise.
func waitForEvent(t *testing.T, conn *websocket.Conn, kind models.EventKind) models.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s event: %v", kind, err)
		}
		if ev.Kind == kind {
			return ev
		}
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
