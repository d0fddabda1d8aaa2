package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/memohai/dingbot/internal/config"
)

type capturedSend struct {
	path   string
	token  string
	body   map[string]any
	params map[string]any
}

// robotAPIServer serves the token and send endpoints and records the last
// send request.
func robotAPIServer(t *testing.T, last *capturedSend) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok-123", "expireIn": 7200})
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode send body: %v", err)
		}
		last.path = r.URL.Path
		last.token = r.Header.Get("x-acs-dingtalk-access-token")
		last.body = body
		if raw, ok := body["msgParam"].(string); ok {
			if err := json.Unmarshal([]byte(raw), &last.params); err != nil {
				t.Errorf("msgParam is not a JSON string: %v", err)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"processQueryKey": "pqk-1"})
	}
	mux.HandleFunc("POST /v1.0/robot/oToMessages/batchSend", record)
	mux.HandleFunc("POST /v1.0/robot/groupMessages/send", record)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSender(srv *httptest.Server) *Sender {
	cfg := config.DingtalkConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RobotCode:    "robot-code",
		APIBase:      srv.URL,
	}
	tokens := NewTokenCache(nil, nil, srv.URL, srv.Client())
	return NewSender(nil, cfg, tokens, srv.Client())
}

func TestSendToUserBody(t *testing.T) {
	t.Parallel()
	var last capturedSend
	srv := robotAPIServer(t, &last)
	sender := newTestSender(srv)

	res := sender.Send(context.Background(), "user:manager4567", "hello\nworld", SendOptions{})
	if !res.OK {
		t.Fatalf("Send failed: %s", res.Error)
	}
	if res.MessageID != "pqk-1" || res.ProcessQueryKey != "pqk-1" {
		t.Errorf("result = %+v, want process query key pqk-1", res)
	}

	if last.path != "/v1.0/robot/oToMessages/batchSend" {
		t.Errorf("path = %q", last.path)
	}
	if last.token != "tok-123" {
		t.Errorf("token header = %q, want tok-123", last.token)
	}
	if got := last.body["robotCode"]; got != "robot-code" {
		t.Errorf("robotCode = %v", got)
	}
	if got := last.body["msgKey"]; got != "sampleMarkdown" {
		t.Errorf("msgKey = %v", got)
	}
	users, _ := last.body["userIds"].([]any)
	if len(users) != 1 || users[0] != "manager4567" {
		t.Errorf("userIds = %v", last.body["userIds"])
	}
	if got := last.params["title"]; got != "DingTalk Message" {
		t.Errorf("title = %v", got)
	}
	if got := last.params["text"]; got != "hello\n\nworld" {
		t.Errorf("text = %v, want doubled newline", got)
	}
}

func TestSendToGroupBody(t *testing.T) {
	t.Parallel()
	var last capturedSend
	srv := robotAPIServer(t, &last)
	sender := newTestSender(srv)

	res := sender.Send(context.Background(), "cidAbC123==", "done", SendOptions{
		AtUsers: []string{"manager4567", "13800000000"},
	})
	if !res.OK {
		t.Fatalf("Send failed: %s", res.Error)
	}

	if last.path != "/v1.0/robot/groupMessages/send" {
		t.Errorf("path = %q", last.path)
	}
	if got := last.body["openConversationId"]; got != "cidAbC123==" {
		t.Errorf("openConversationId = %v", got)
	}
	at, _ := last.body["at"].(map[string]any)
	if at == nil {
		t.Fatalf("at block missing: %v", last.body)
	}
	userIDs, _ := at["atUserIds"].([]any)
	mobiles, _ := at["atMobiles"].([]any)
	if len(userIDs) != 1 || userIDs[0] != "manager4567" {
		t.Errorf("atUserIds = %v", at["atUserIds"])
	}
	if len(mobiles) != 1 || mobiles[0] != "13800000000" {
		t.Errorf("atMobiles = %v", at["atMobiles"])
	}
	if at["isAtAll"] != false {
		t.Errorf("isAtAll = %v", at["isAtAll"])
	}
	text, _ := last.params["text"].(string)
	if !strings.Contains(text, "@manager4567") || !strings.Contains(text, "@13800000000") {
		t.Errorf("text mentions missing: %q", text)
	}
}

func TestSendNotConfiguredShortCircuits(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	cfg := config.DingtalkConfig{APIBase: srv.URL}
	tokens := NewTokenCache(nil, nil, srv.URL, srv.Client())
	sender := NewSender(nil, cfg, tokens, srv.Client())

	for _, to := range []string{"user:u1", "cidAbc"} {
		res := sender.Send(context.Background(), to, "hi", SendOptions{})
		if res.OK {
			t.Errorf("Send(%q) succeeded without credentials", to)
		}
		if res.Error != ErrNotConfigured.Error() {
			t.Errorf("Send(%q) error = %q", to, res.Error)
		}
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("unconfigured sends performed %d requests, want 0", got)
	}
}

func TestSendWebhookWithoutCredentials(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	var gotToken string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("x-acs-dingtalk-access-token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
	}))
	t.Cleanup(hook.Close)

	cfg := config.DingtalkConfig{}
	tokens := NewTokenCache(nil, nil, "http://127.0.0.1:0", http.DefaultClient)
	sender := NewSender(nil, cfg, tokens, hook.Client())

	res := sender.Send(context.Background(), hook.URL, "notify", SendOptions{AtUsers: []string{"all"}})
	if !res.OK {
		t.Fatalf("webhook send failed: %s", res.Error)
	}
	if gotToken != "" {
		t.Errorf("unexpected token header %q on credential-less webhook", gotToken)
	}
	if gotBody["msgtype"] != "markdown" {
		t.Errorf("msgtype = %v", gotBody["msgtype"])
	}
	md, _ := gotBody["markdown"].(map[string]any)
	text, _ := md["text"].(string)
	if !strings.Contains(text, "@所有人") {
		t.Errorf("text = %q, want mention-all marker", text)
	}
	at, _ := gotBody["at"].(map[string]any)
	if at == nil || at["isAtAll"] != true {
		t.Errorf("at = %v, want isAtAll true", gotBody["at"])
	}
}

func TestSendWebhookSwallowsTokenFailure(t *testing.T) {
	t.Parallel()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-acs-dingtalk-access-token") != "" {
			t.Error("token header set despite failed exchange")
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)
	badToken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(badToken.Close)

	cfg := config.DingtalkConfig{ClientID: "client-id", ClientSecret: "client-secret", APIBase: badToken.URL}
	tokens := NewTokenCache(nil, nil, badToken.URL, badToken.Client())
	sender := NewSender(nil, cfg, tokens, hook.Client())

	res := sender.Send(context.Background(), hook.URL, "notify", SendOptions{})
	if !res.OK {
		t.Fatalf("webhook send failed on token error: %s", res.Error)
	}
}

func TestSendUpstreamFailureInResult(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok-123", "expireIn": 7200})
	})
	mux.HandleFunc("POST /v1.0/robot/oToMessages/batchSend", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sender := newTestSender(srv)
	res := sender.Send(context.Background(), "user:u1", "hi", SendOptions{})
	if res.OK {
		t.Fatal("send succeeded against throttling upstream")
	}
	if !strings.Contains(res.Error, "429") {
		t.Errorf("error = %q, want HTTP status", res.Error)
	}
}
