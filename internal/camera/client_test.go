package camera

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "admin"
	testPass  = "secret"
	testRealm = "Login to cam"
	testNonce = "5ccc069c403ebaf9f0171e9517f40e41"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func authFields(h string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(h, "Digest "), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok {
			out[k] = strings.Trim(v, "\"")
		}
	}
	return out
}

// fakeCamera требует digest auth и пишет принятые запросы.
type fakeCamera struct {
	mu         sync.Mutex
	requests   []string
	challenges int
	counts     []string // nc из принятых запросов
	reply      string
	status     int
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := r.Header.Get("Authorization")
	if h == "" {
		f.mu.Lock()
		f.challenges++
		f.mu.Unlock()
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s", opaque="xyz"`, testRealm, testNonce))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	a := authFields(h)
	ha1 := md5hex(testUser + ":" + testRealm + ":" + testPass)
	ha2 := md5hex(r.Method + ":" + a["uri"])
	want := md5hex(ha1 + ":" + testNonce + ":" + a["nc"] + ":" + a["cnonce"] + ":" + a["qop"] + ":" + ha2)
	if a["response"] != want || a["uri"] != r.URL.RequestURI() || a["opaque"] != "xyz" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, r.URL.RequestURI())
	f.counts = append(f.counts, a["nc"])
	reply, status := f.reply, f.status
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply))
}

func newTestClient(t *testing.T, f *fakeCamera) *Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Config{ID: "cam1", Host: srv.URL, Username: testUser, Password: testPass})
}

func TestStatusWithDigestAuth(t *testing.T) {
	f := &fakeCamera{reply: "status.ZoomValue=44\r\nstatus.PTZFocusHD=25137\r\n"}
	c := newTestClient(t, f)

	text, err := c.Status(context.Background())
	require.NoError(t, err)
	kv := ParseKV(text)
	assert.Equal(t, "44", kv["status.ZoomValue"])
	assert.Equal(t, "25137", kv["status.PTZFocusHD"])
	assert.Equal(t, []string{"/cgi-bin/ptz.cgi?action=getStatus"}, f.requests)
}

func TestControlQuery(t *testing.T) {
	f := &fakeCamera{reply: "OK\r\n"}
	c := newTestClient(t, f)
	ctx := context.Background()

	reply, err := c.Control(ctx, "start", CodeZoomTele, 0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
	require.NoError(t, c.PositionAbsolute(ctx, 22.5, -10, 3))
	require.NoError(t, c.GotoPreset(ctx, 31))
	require.NoError(t, c.SetPreset(ctx, 30))
	require.NoError(t, c.ClearPreset(ctx, 30))

	assert.Equal(t, []string{
		"/cgi-bin/ptz.cgi?action=start&channel=0&code=ZoomTele&arg1=0&arg2=0&arg3=5",
		"/cgi-bin/ptz.cgi?action=start&channel=0&code=PositionABS&arg1=22.5&arg2=-10&arg3=3",
		"/cgi-bin/ptz.cgi?action=start&channel=0&code=GotoPreset&arg1=0&arg2=31&arg3=0",
		"/cgi-bin/ptz.cgi?action=start&channel=0&code=SetPreset&arg1=0&arg2=30&arg3=0",
		"/cgi-bin/ptz.cgi?action=start&channel=0&code=ClearPreset&arg1=0&arg2=30&arg3=0",
	}, f.requests)
}

func TestControlErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		c := newTestClient(t, &fakeCamera{status: http.StatusInternalServerError, reply: "boom"})
		_, err := c.Status(context.Background())
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.Code)
	})
	t.Run("error reply", func(t *testing.T) {
		c := newTestClient(t, &fakeCamera{reply: "Error\r\nBad Request!"})
		_, err := c.Control(context.Background(), "start", CodeGotoPreset, 0, 1, 0)
		assert.Error(t, err)
	})
	t.Run("wrong password", func(t *testing.T) {
		srv := httptest.NewServer(&fakeCamera{})
		defer srv.Close()
		c := NewClient(Config{ID: "cam1", Host: srv.URL, Username: testUser, Password: "nope"})
		_, err := c.Status(context.Background())
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusUnauthorized, se.Code)
	})
}

func TestDigestChallengeReused(t *testing.T) {
	f := &fakeCamera{reply: "OK\r\n"}
	c := newTestClient(t, f)
	ctx := context.Background()

	for range 3 {
		_, err := c.Status(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.challenges)
	assert.Equal(t, []string{"00000001", "00000002", "00000003"}, f.counts)
}

func TestNoCredentialsNoAuth(t *testing.T) {
	srv := httptest.NewServer(&fakeCamera{})
	defer srv.Close()
	c := NewClient(Config{ID: "cam1", Host: srv.URL})
	_, err := c.Status(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}
