package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/ratelimit"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
	"github.com/ericyarmo/buds-relay/pkg/relay/service"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	testDIDAlice   = "did:phone:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testDIDBob     = "did:phone:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPhoneAlice = "+14155551234"
	testPhoneBob   = "+14155551235"
)

type apiTestEnv struct {
	srv     *httptest.Server
	svc     *service.Service
	limiter *ratelimit.Limiter
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "relay.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := phonecrypt.New(make([]byte, phonecrypt.KeySize))
	require.NoError(t, err)

	svc := service.New(st, blob.NewMemory(), push.NopNotifier{}, enc)

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: testSecret, Issuer: "buds-auth"})
	require.NoError(t, err)

	limiter := NewRateLimiter()
	t.Cleanup(limiter.Close)

	srv := httptest.NewServer(NewRouter(svc, verifier, limiter))
	t.Cleanup(srv.Close)
	return &apiTestEnv{srv: srv, svc: svc, limiter: limiter}
}

func (e *apiTestEnv) token(t *testing.T, phone string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":          "buds-auth",
		"sub":          "sub-" + phone,
		"iat":          now.Unix(),
		"exp":          now.Add(time.Hour).Unix(),
		"phone_number": phone,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// do issues an authenticated request and decodes the JSON response.
func (e *apiTestEnv) do(t *testing.T, method, path, phone string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if phone != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, phone))
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// registerDevice registers a device over the API and returns the
// Ed25519 private key behind its signing key.
func (e *apiTestEnv) registerDevice(t *testing.T, did, phone string) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	deviceID := uuid.NewString()

	resp, _ := e.do(t, http.MethodPost, "/api/devices/register", phone, map[string]any{
		"device_id":      deviceID,
		"device_name":    "test device",
		"owner_did":      did,
		"phone":          phone,
		"pubkey_x25519":  base64.StdEncoding.EncodeToString(make([]byte, 32)),
		"pubkey_ed25519": base64.StdEncoding.EncodeToString(pub),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return deviceID, priv
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestAuthRequired(t *testing.T) {
	env := newAPITestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/account/salt", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, CodeAuthFailed, errorCode(body))
	require.NotEmpty(t, body["request_id"])

	t.Run("health is open", func(t *testing.T) {
		resp, body := env.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "healthy", body["status"])
	})
}

func TestSaltEndpoint(t *testing.T) {
	env := newAPITestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/account/salt", testPhoneAlice, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, true, body["created"])
	salt := body["salt"].(string)
	require.Len(t, salt, 44)

	resp, body = env.do(t, http.MethodPost, "/api/account/salt", testPhoneAlice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["created"])
	require.Equal(t, salt, body["salt"])
}

func TestDeviceAndLookupEndpoints(t *testing.T) {
	env := newAPITestEnv(t)
	deviceID, _ := env.registerDevice(t, testDIDAlice, testPhoneAlice)

	t.Run("phone mismatch forbidden", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/devices/register", testPhoneBob, map[string]any{
			"device_id":      uuid.NewString(),
			"owner_did":      testDIDAlice,
			"phone":          testPhoneAlice,
			"pubkey_x25519":  "eHg=",
			"pubkey_ed25519": "ZWQ=",
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, CodeForbidden, errorCode(body))
	})

	t.Run("lookup", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/lookup/did", testPhoneBob, map[string]any{
			"phone": testPhoneAlice,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, testDIDAlice, body["did"])
	})

	t.Run("lookup unknown phone", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/lookup/did", testPhoneBob, map[string]any{
			"phone": "+14155559999",
		})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, CodeNotFound, errorCode(body))
	})

	t.Run("batch lookup", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/lookup/batch", testPhoneBob, map[string]any{
			"phones": []string{testPhoneAlice, "+14155559999"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		dids := body["dids"].(map[string]any)
		require.Len(t, dids, 1)
	})

	t.Run("device list", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/devices/list", testPhoneBob, map[string]any{
			"dids": []string{testDIDAlice},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body["devices"], 1)
	})

	t.Run("heartbeat", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/devices/heartbeat", testPhoneAlice, map[string]any{
			"device_id": deviceID,
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("validation error shape", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/devices/register", testPhoneAlice, map[string]any{
			"device_id":      "not-a-uuid",
			"owner_did":      testDIDAlice,
			"phone":          testPhoneAlice,
			"pubkey_x25519":  "eHg=",
			"pubkey_ed25519": "ZWQ=",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, CodeValidation, errorCode(body))
		errObj := body["error"].(map[string]any)
		require.NotEmpty(t, errObj["details"])
	})
}

func TestMessageEndpoints(t *testing.T) {
	env := newAPITestEnv(t)
	aliceDevice, _ := env.registerDevice(t, testDIDAlice, testPhoneAlice)
	env.registerDevice(t, testDIDBob, testPhoneBob)

	payload := base64.StdEncoding.EncodeToString([]byte("ciphertext"))
	send := map[string]any{
		"message_id":        uuid.NewString(),
		"sender_did":        testDIDAlice,
		"sender_device_id":  aliceDevice,
		"recipient_dids":    []string{testDIDBob},
		"encrypted_payload": payload,
		"wrapped_keys":      map[string]string{"device-1": payload},
		"signature":         base64.StdEncoding.EncodeToString(make([]byte, 64)),
	}

	resp, body := env.do(t, http.MethodPost, "/api/messages/send", testPhoneAlice, send)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, send["message_id"], body["message_id"])

	t.Run("duplicate send rejected", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/api/messages/send", testPhoneAlice, send)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, CodeValidation, errorCode(body))
	})

	t.Run("recipient cap is its own code", func(t *testing.T) {
		over := make([]string, service.MaxRecipients+1)
		for i := range over {
			over[i] = testDIDBob
		}
		tooBig := map[string]any{}
		for k, v := range send {
			tooBig[k] = v
		}
		tooBig["message_id"] = uuid.NewString()
		tooBig["recipient_dids"] = over

		resp, body := env.do(t, http.MethodPost, "/api/messages/send", testPhoneAlice, tooBig)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, CodeCircleLimit, errorCode(body))
	})

	t.Run("inbox", func(t *testing.T) {
		resp, body := env.do(t, http.MethodGet, "/api/messages/inbox", testPhoneBob, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		msg := msgs[0].(map[string]any)
		require.Equal(t, payload, msg["encrypted_payload"])
		require.Equal(t, false, body["has_more"])
	})

	t.Run("mark delivered", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/messages/mark-delivered", testPhoneBob, map[string]any{
			"message_id": send["message_id"],
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, body := env.do(t, http.MethodPost, "/api/messages/mark-delivered", testPhoneBob, map[string]any{
			"message_id": send["message_id"],
		})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, CodeNotFound, errorCode(body))
	})

	t.Run("delete by non-sender forbidden", func(t *testing.T) {
		resp, body := env.do(t, http.MethodDelete, "/api/messages/"+send["message_id"].(string), testPhoneBob, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, CodeForbidden, errorCode(body))
	})

	t.Run("delete by sender", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodDelete, "/api/messages/"+send["message_id"].(string), testPhoneAlice, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestJarEndpoints(t *testing.T) {
	env := newAPITestEnv(t)
	_, alicePriv := env.registerDevice(t, testDIDAlice, testPhoneAlice)
	env.registerDevice(t, testDIDBob, testPhoneBob)

	encodeReceipt := func(receiptType string, payload map[string]any) (string, string) {
		enc, err := cbor.CanonicalEncOptions().EncMode()
		require.NoError(t, err)
		m := map[string]any{
			"receipt_type": receiptType,
			"sender_did":   testDIDAlice,
			"timestamp":    uint64(1_700_000_000_000),
		}
		if payload != nil {
			m["payload"] = payload
		}
		data, err := enc.Marshal(m)
		require.NoError(t, err)
		sig := ed25519.Sign(alicePriv, data)
		return base64.StdEncoding.EncodeToString(data), base64.StdEncoding.EncodeToString(sig)
	}

	const jarPath = "/api/jars/jar-api/receipts"

	t.Run("genesis append", func(t *testing.T) {
		data, sig := encodeReceipt("jar.created", nil)
		resp, body := env.do(t, http.MethodPost, jarPath, testPhoneAlice, map[string]any{
			"receipt_data": data,
			"signature":    sig,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Equal(t, float64(1), body["sequence_number"])
		require.NotEmpty(t, body["receipt_cid"])
	})

	t.Run("member added and backfill", func(t *testing.T) {
		data, sig := encodeReceipt("jar.member_added", map[string]any{"member_did": testDIDBob})
		resp, body := env.do(t, http.MethodPost, jarPath, testPhoneAlice, map[string]any{
			"receipt_data": data,
			"signature":    sig,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Equal(t, float64(2), body["sequence_number"])

		resp, body = env.do(t, http.MethodGet, jarPath+"?after=0", testPhoneBob, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body["receipts"], 2)
	})

	t.Run("non-member backfill forbidden", func(t *testing.T) {
		carolPhone := "+14155551236"
		env.registerDevice(t, "did:phone:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc", carolPhone)
		resp, body := env.do(t, http.MethodGet, jarPath, carolPhone, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, CodeForbidden, errorCode(body))
	})

	t.Run("list jars", func(t *testing.T) {
		resp, body := env.do(t, http.MethodGet, "/api/jars/list", testPhoneAlice, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		jars := body["jars"].([]any)
		require.Len(t, jars, 1)
		jar := jars[0].(map[string]any)
		require.Equal(t, "jar-api", jar["jar_id"])
		require.Equal(t, "owner", jar["role"])
	})

	t.Run("bad signature forbidden", func(t *testing.T) {
		data, _ := encodeReceipt("jar.member_added", map[string]any{"member_did": "did:phone:dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"})
		resp, body := env.do(t, http.MethodPost, jarPath, testPhoneAlice, map[string]any{
			"receipt_data": data,
			"signature":    base64.StdEncoding.EncodeToString(make([]byte, 64)),
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, CodeForbidden, errorCode(body))
	})
}

func TestRateLimitHeaders(t *testing.T) {
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "relay.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := phonecrypt.New(make([]byte, phonecrypt.KeySize))
	require.NoError(t, err)
	svc := service.New(st, blob.NewMemory(), push.NopNotifier{}, enc)

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: testSecret, Issuer: "buds-auth"})
	require.NoError(t, err)

	// Tight limit so the test exercises rejection quickly.
	limiter := ratelimit.New(map[string]ratelimit.Limit{
		"salt": {Requests: 3, Window: time.Minute},
	}, ratelimit.Limit{Requests: 60, Window: time.Minute})
	t.Cleanup(limiter.Close)

	env := &apiTestEnv{svc: svc, limiter: limiter}
	env.srv = httptest.NewServer(NewRouter(svc, verifier, limiter))
	t.Cleanup(env.srv.Close)

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/account/salt", testPhoneAlice, nil)
		require.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
		require.Equal(t, fmt.Sprintf("%d", 2-i), resp.Header.Get("X-RateLimit-Remaining"))
		require.Less(t, resp.StatusCode, 300)
	}

	resp, body := env.do(t, http.MethodPost, "/api/account/salt", testPhoneAlice, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, CodeRateLimited, errorCode(body))

	retryAfter := resp.Header.Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	var seconds int
	_, err = fmt.Sscanf(retryAfter, "%d", &seconds)
	require.NoError(t, err)
	require.GreaterOrEqual(t, seconds, 1)
	require.LessOrEqual(t, seconds, 60)
}

func TestInternalErrorShape(t *testing.T) {
	env := newAPITestEnv(t)

	// Closing the store makes the health ping fail.
	require.NoError(t, env.svc.Store().Close())
	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "unhealthy", body["status"])
}

func TestClientHost(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:5678":    "192.0.2.1",
		"192.0.2.1":         "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"2001:db8::1":       "2001:db8::1",
		"":                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, clientHost(in), "input %q", in)
	}
}
